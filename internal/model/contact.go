package model

// TargetRange describes one street-number interval to scrape.
type TargetRange struct {
	Street string `json:"street" yaml:"street" mapstructure:"street"`
	CityID int    `json:"city_id" yaml:"city_id" mapstructure:"city_id"`
	Start  int    `json:"start" yaml:"start" mapstructure:"start"`
	End    int    `json:"end" yaml:"end" mapstructure:"end"`
	Step   int    `json:"step,omitempty" yaml:"step" mapstructure:"step"`
}

// ContactRequest is the normalized body sent to the contact-info endpoint.
// Document is a pointer so a resident with no resolvable document serializes
// as null rather than an empty string (the upstream distinguishes the two).
// CityID stays loosely typed: it is an int when coercion succeeds and the
// raw upstream value otherwise.
type ContactRequest struct {
	Document     *string `json:"document"`
	DocumentType string  `json:"documentType"`
	Name         string  `json:"name"`
	Number       string  `json:"number"`
	Street       string  `json:"street"`
	UF           string  `json:"uf"`
	CityID       any     `json:"cityId"`
	City         string  `json:"city"`
	Neighborhood string  `json:"neighborhood"`
	Complement   string  `json:"complement"`
	Type         string  `json:"type"`
	Detailing    bool    `json:"detailing"`
}

// MobileContact is one mobile-phone channel flattened out of a decrypted
// payload, carrying the owning person's document and display name.
type MobileContact struct {
	Document    string  `json:"document"`
	PhoneNumber string  `json:"phone_number"`
	Priority    int     `json:"priority"`
	Score       float64 `json:"score"`
	Plus        bool    `json:"plus"`
	NotDisturb  int     `json:"not_disturb"`
	Name        string  `json:"name"`
}

// OutputRecord is one persisted CSV row.
type OutputRecord struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	Document     string `json:"document"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	UF           string `json:"uf"`
	PhoneNumber  string `json:"phone_number"`
	WhatsappURL  string `json:"whatsapp_url"`
}
