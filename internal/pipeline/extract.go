package pipeline

import (
	"github.com/imovelink/broker-contacts/internal/model"
	"github.com/imovelink/broker-contacts/pkg/broker"
)

// mobileChannelType is the exact channel marker for a mobile phone line.
const mobileChannelType = "TELEFONE MÓVEL"

// ExtractMobileContacts flattens every mobile-phone channel in a decrypted
// payload into one contact per channel, carrying the owning person's document
// and display name. Channels of any other type are dropped.
func ExtractMobileContacts(payload *broker.DecryptedPayload) []model.MobileContact {
	if payload == nil || len(payload.Data) == 0 {
		return nil
	}

	var contacts []model.MobileContact
	for _, person := range payload.Data {
		for _, channel := range person.ContactInfos {
			if channel.Type != mobileChannelType {
				continue
			}
			contacts = append(contacts, model.MobileContact{
				Document:    person.Document,
				PhoneNumber: channel.PhoneNumber,
				Priority:    channel.Priority,
				Score:       channel.Score,
				Plus:        channel.Plus,
				NotDisturb:  channel.NotDisturb,
				Name:        person.PFData.Name,
			})
		}
	}
	return contacts
}
