package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imovelink/broker-contacts/pkg/broker"
)

func TestExtractMobileContacts_NilPayload(t *testing.T) {
	t.Parallel()
	assert.Empty(t, ExtractMobileContacts(nil))
	assert.Empty(t, ExtractMobileContacts(&broker.DecryptedPayload{}))
}

func TestExtractMobileContacts_FiltersByChannelType(t *testing.T) {
	t.Parallel()

	payload := &broker.DecryptedPayload{
		Data: []broker.Person{
			{
				Document: "11122233344",
				PFData:   broker.PFData{Name: "MARIA DA SILVA"},
				ContactInfos: []broker.ContactInfo{
					{Type: "TELEFONE MÓVEL", PhoneNumber: "(11) 98765-4321", Priority: 1, Score: 0.92, Plus: true, NotDisturb: 2},
				},
			},
			{
				Document: "55566677788",
				PFData:   broker.PFData{Name: "JOAO PEREIRA"},
				ContactInfos: []broker.ContactInfo{
					{Type: "TELEFONE FIXO", PhoneNumber: "(11) 3456-7890"},
				},
			},
		},
	}

	got := ExtractMobileContacts(payload)

	require.Len(t, got, 1)
	assert.Equal(t, "11122233344", got[0].Document)
	assert.Equal(t, "(11) 98765-4321", got[0].PhoneNumber)
	assert.Equal(t, 1, got[0].Priority)
	assert.Equal(t, 0.92, got[0].Score)
	assert.True(t, got[0].Plus)
	assert.Equal(t, 2, got[0].NotDisturb)
	assert.Equal(t, "MARIA DA SILVA", got[0].Name)
}

func TestExtractMobileContacts_MultipleChannelsPerPerson(t *testing.T) {
	t.Parallel()

	payload := &broker.DecryptedPayload{
		Data: []broker.Person{
			{
				Document: "11122233344",
				ContactInfos: []broker.ContactInfo{
					{Type: "TELEFONE MÓVEL", PhoneNumber: "(11) 98765-4321"},
					{Type: "EMAIL", PhoneNumber: ""},
					{Type: "TELEFONE MÓVEL", PhoneNumber: "(11) 91234-5678"},
				},
			},
		},
	}

	got := ExtractMobileContacts(payload)

	require.Len(t, got, 2)
	assert.Equal(t, "(11) 98765-4321", got[0].PhoneNumber)
	assert.Equal(t, "(11) 91234-5678", got[1].PhoneNumber)
}

func TestExtractMobileContacts_ExactMarkerMatch(t *testing.T) {
	t.Parallel()

	// Marker comparison is exact; accent-stripped and lowercase variants do
	// not match.
	payload := &broker.DecryptedPayload{
		Data: []broker.Person{
			{ContactInfos: []broker.ContactInfo{
				{Type: "TELEFONE MOVEL", PhoneNumber: "1"},
				{Type: "telefone móvel", PhoneNumber: "2"},
			}},
		},
	}

	assert.Empty(t, ExtractMobileContacts(payload))
}
