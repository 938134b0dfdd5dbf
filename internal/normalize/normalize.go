// Package normalize builds typed contact-info requests out of the
// loosely-shaped resident records the search endpoint returns. Upstream field
// names drift between API versions, so every field resolves through an
// ordered alias list and every coercion degrades to an empty value instead of
// failing.
package normalize

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/imovelink/broker-contacts/internal/model"
	"github.com/imovelink/broker-contacts/pkg/broker"
)

// documentAliases are the known spellings of the document field, in
// preference order. The same list applies to the top-level record and to the
// first entry of its owners list.
var documentAliases = []string{
	"document",
	"documentEncrypted",
	"encryptedDocument",
	"cpfEncrypted",
	"cpf",
	"documento",
	"cpfCnpj",
	"encodedDocument",
	"documentEncryptedData",
}

// fieldAliases maps each address field to its ordered upstream spellings.
var fieldAliases = map[string][]string{
	"number":       {"number", "houseNumber"},
	"street":       {"street", "streetName"},
	"uf":           {"uf", "state"},
	"city":         {"city", "cityName"},
	"neighborhood": {"neighborhood", "neighborhoodName", "bairro"},
	"name":         {"name", "residentName"},
}

// ownerNameAliases resolve a display name from owners[0] when the record
// itself carries none.
var ownerNameAliases = []string{"name", "residentName", "fullName"}

// ContactRequest builds the contact-info request body for a resident record.
// fallbackCityID fills in when the record carries no cityId of its own. The
// function never fails: an unresolvable document yields a null document and a
// diagnostic log, nothing more.
func ContactRequest(rec broker.Resident, fallbackCityID int) model.ContactRequest {
	req := model.ContactRequest{
		DocumentType: "CPF",
		Number:       resolve(rec, "number"),
		Street:       resolve(rec, "street"),
		UF:           resolve(rec, "uf"),
		City:         resolve(rec, "city"),
		Neighborhood: resolve(rec, "neighborhood"),
		Complement:   asString(rec["complement"]),
		Type:         "proprietario",
		Detailing:    true,
	}

	if t := asString(rec["type"]); t != "" {
		req.Type = t
	}

	req.CityID = resolveCityID(rec, fallbackCityID)

	owner := firstOwner(rec)

	if doc := resolveDocument(rec, owner); doc != "" {
		req.Document = &doc
	} else {
		logMissingDocument(rec)
	}

	if owner != nil {
		if dt := asString(owner["documentType"]); dt != "" {
			req.DocumentType = dt
		}
	}

	req.Name = resolve(rec, "name")
	if req.Name == "" && owner != nil {
		for _, key := range ownerNameAliases {
			if v := asString(owner[key]); v != "" {
				req.Name = v
				break
			}
		}
	}

	return req
}

// resolve returns the first non-empty alias value for a named field.
func resolve(rec broker.Resident, field string) string {
	for _, key := range fieldAliases[field] {
		if v := asString(rec[key]); v != "" {
			return v
		}
	}
	return ""
}

// resolveDocument walks the alias list on the record, then on owners[0],
// where documentNumber takes precedence over the shared aliases.
func resolveDocument(rec broker.Resident, owner map[string]any) string {
	for _, key := range documentAliases {
		if v := asString(rec[key]); v != "" {
			return v
		}
	}
	if owner == nil {
		return ""
	}
	if v := asString(owner["documentNumber"]); v != "" {
		return v
	}
	for _, key := range documentAliases {
		if v := asString(owner[key]); v != "" {
			return v
		}
	}
	return ""
}

// resolveCityID prefers the record's own cityId, coerced to an integer. When
// coercion fails the raw value passes through untouched so the upstream can
// reject it on its own terms.
func resolveCityID(rec broker.Resident, fallback int) any {
	v, ok := rec["cityId"]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
		return n
	default:
		return v
	}
}

// firstOwner returns owners[0] as a map, or nil when absent or not a map.
func firstOwner(rec broker.Resident) map[string]any {
	owners, ok := rec["owners"].([]any)
	if !ok || len(owners) == 0 {
		return nil
	}
	owner, ok := owners[0].(map[string]any)
	if !ok {
		return nil
	}
	return owner
}

// asString coerces scalar upstream values to text. Anything uncoercible
// degrades to the empty string.
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// logMissingDocument reports the record's shape to help diagnose alias drift.
// Values of document-family fields are redacted.
func logMissingDocument(rec broker.Resident) {
	keys := make([]string, 0, len(rec))
	redacted := make(map[string]any, len(rec))
	for k, v := range rec {
		keys = append(keys, k)
		if strings.HasPrefix(strings.ToLower(k), "doc") {
			redacted[k] = "[REDACTED]"
		} else {
			redacted[k] = v
		}
	}
	sort.Strings(keys)

	zap.L().Warn("resident missing document field",
		zap.Strings("keys", keys),
		zap.Any("resident", redacted),
	)
}
