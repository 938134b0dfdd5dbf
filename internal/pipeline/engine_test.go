package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imovelink/broker-contacts/internal/config"
	"github.com/imovelink/broker-contacts/internal/model"
	"github.com/imovelink/broker-contacts/internal/sink"
	"github.com/imovelink/broker-contacts/internal/store"
	"github.com/imovelink/broker-contacts/pkg/broker"
)

// fakeClient scripts the three broker endpoints and counts calls.
type fakeClient struct {
	mu           sync.Mutex
	searchFn     func(street string, initial, final, cityID int) ([]broker.Resident, error)
	contactFn    func(req model.ContactRequest) (*broker.ContactInfoResponse, error)
	readFn       func(data string, id int) (*broker.DecryptedPayload, error)
	searchCalls  int
	contactCalls int
	readCalls    int
}

func (f *fakeClient) SearchResidents(_ context.Context, street string, initial, final, cityID int) ([]broker.Resident, error) {
	f.mu.Lock()
	f.searchCalls++
	f.mu.Unlock()
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(street, initial, final, cityID)
}

func (f *fakeClient) ContactInfo(_ context.Context, req model.ContactRequest) (*broker.ContactInfoResponse, error) {
	f.mu.Lock()
	f.contactCalls++
	f.mu.Unlock()
	if f.contactFn == nil {
		return nil, errors.New("not scripted")
	}
	return f.contactFn(req)
}

func (f *fakeClient) ReadEncrypted(_ context.Context, data string, id int) (*broker.DecryptedPayload, error) {
	f.mu.Lock()
	f.readCalls++
	f.mu.Unlock()
	if f.readFn == nil {
		return nil, errors.New("not scripted")
	}
	return f.readFn(data, id)
}

func newTestEngine(t *testing.T, client broker.Client, st store.Store) (*Engine, *sink.CSV) {
	t.Helper()
	snk := sink.New(t.TempDir())
	eng := NewEngine(client, snk, st, NewDelayPolicy(config.DelaysConfig{}), config.ScrapeConfig{
		Step:                 10,
		MaxConsecutiveErrors: 5,
	})
	return eng, snk
}

func mobilePayload(document, name, phone string) *broker.DecryptedPayload {
	return &broker.DecryptedPayload{
		Data: []broker.Person{
			{
				Document: document,
				PFData:   broker.PFData{Name: name},
				ContactInfos: []broker.ContactInfo{
					{Type: "TELEFONE MÓVEL", PhoneNumber: phone, Priority: 1},
				},
			},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		searchFn: func(street string, initial, final, cityID int) ([]broker.Resident, error) {
			if initial == 1 {
				return []broker.Resident{
					{"number": "3", "street": street, "city": "Suzano", "neighborhood": "Centro", "uf": "SP", "document": "11122233344"},
				}, nil
			}
			return nil, nil
		},
		contactFn: func(req model.ContactRequest) (*broker.ContactInfoResponse, error) {
			return &broker.ContactInfoResponse{Data: "opaque", ID: 7}, nil
		},
		readFn: func(data string, id int) (*broker.DecryptedPayload, error) {
			return mobilePayload("11122233344", "MARIA DA SILVA", "(11) 98765-4321"), nil
		},
	}

	eng, snk := newTestEngine(t, client, nil)

	result, err := eng.Run(context.Background(), []model.TargetRange{
		{Street: "Rua Susano", CityID: 5270, Start: 1, End: 20},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, client.searchCalls)
	assert.Equal(t, 1, client.contactCalls)
	assert.Equal(t, 1, client.readCalls)
	assert.Equal(t, 1, result.Raw)
	assert.Equal(t, 1, result.Accepted)
	require.Len(t, result.Targets, 1)
	assert.Equal(t, "Rua Susano", result.Targets[0].Street)

	rows := readCSV(t, result.OutputFile)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"street", "number", "name", "document", "city", "neighborhood", "uf", "phone_number", "whatsapp_url"}, rows[0])
	assert.Equal(t, "Rua Susano", rows[1][0])
	assert.Equal(t, "3", rows[1][1])
	assert.Equal(t, "MARIA DA SILVA", rows[1][2])
	assert.Equal(t, "(11) 98765-4321", rows[1][7])

	// Sink is closed after the run; further submits must not succeed.
	_, submitErr := snk.Submit(model.OutputRecord{PhoneNumber: "11987654321"})
	require.Error(t, submitErr)
}

func TestRun_EmptySearchSkipsContactStage(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	eng, _ := newTestEngine(t, client, nil)

	result, err := eng.Run(context.Background(), []model.TargetRange{
		{Street: "Rua Susano", CityID: 5270, Start: 1, End: 30},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, client.searchCalls)
	assert.Zero(t, client.contactCalls)
	assert.Zero(t, result.Raw)
	assert.Empty(t, result.OutputFile)
}

func TestRun_RepeatedSearchFailuresAbort(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		searchFn: func(string, int, int, int) ([]broker.Resident, error) {
			return nil, errors.New("status 401")
		},
	}
	eng, _ := newTestEngine(t, client, nil)

	_, err := eng.Run(context.Background(), []model.TargetRange{
		{Street: "Rua Susano", CityID: 5270, Start: 1, End: 200},
	})

	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, 5, client.searchCalls)
}

func TestScrapeTarget_ResidentFailuresAbandonSubRangeOnly(t *testing.T) {
	t.Parallel()

	// Six failing residents in the first sub-range: the fifth consecutive
	// failure abandons the remainder, the second sub-range still runs.
	residents := make([]broker.Resident, 6)
	for i := range residents {
		residents[i] = broker.Resident{"number": "1", "document": "x"}
	}

	client := &fakeClient{
		searchFn: func(street string, initial, final, cityID int) ([]broker.Resident, error) {
			if initial == 1 {
				return residents, nil
			}
			return nil, nil
		},
		contactFn: func(model.ContactRequest) (*broker.ContactInfoResponse, error) {
			return nil, errors.New("status 500")
		},
	}
	eng, _ := newTestEngine(t, client, nil)

	_, err := eng.ScrapeTarget(context.Background(), model.TargetRange{
		Street: "Rua Susano", CityID: 5270, Start: 1, End: 20,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, client.searchCalls, "next sub-range must still be searched")
	assert.Equal(t, 5, client.contactCalls, "sub-range abandoned at the threshold")
}

func TestScrapeTarget_CounterResetsOnAcceptedWrite(t *testing.T) {
	t.Parallel()

	// Failures interleaved with successful writes never reach the threshold.
	var calls int
	client := &fakeClient{
		searchFn: func(street string, initial, final, cityID int) ([]broker.Resident, error) {
			if initial > 40 {
				return nil, nil
			}
			return []broker.Resident{
				{"number": "1", "document": "a"},
				{"number": "2", "document": "b"},
			}, nil
		},
		contactFn: func(req model.ContactRequest) (*broker.ContactInfoResponse, error) {
			calls++
			if calls%2 == 1 {
				return nil, errors.New("status 500")
			}
			return &broker.ContactInfoResponse{Data: "opaque", ID: calls}, nil
		},
		readFn: func(data string, id int) (*broker.DecryptedPayload, error) {
			return mobilePayload("doc", "NAME", "(11) 9"+string(rune('0'+id%10))+"765-432"+string(rune('0'+id%10))), nil
		},
	}
	eng, _ := newTestEngine(t, client, nil)

	stats, err := eng.ScrapeTarget(context.Background(), model.TargetRange{
		Street: "Rua Susano", CityID: 5270, Start: 1, End: 40,
	})

	require.NoError(t, err)
	assert.Equal(t, 4, stats.Accepted)
}

func TestScrapeTarget_EmptyContactPayloadSkipsDecrypt(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		searchFn: func(street string, initial, final, cityID int) ([]broker.Resident, error) {
			if initial == 1 {
				return []broker.Resident{{"number": "1", "document": "a"}}, nil
			}
			return nil, nil
		},
		contactFn: func(model.ContactRequest) (*broker.ContactInfoResponse, error) {
			return &broker.ContactInfoResponse{}, nil
		},
	}
	eng, _ := newTestEngine(t, client, nil)

	_, err := eng.ScrapeTarget(context.Background(), model.TargetRange{
		Street: "Rua Susano", CityID: 5270, Start: 1, End: 10,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, client.contactCalls)
	assert.Zero(t, client.readCalls)
}

func TestScrapeTarget_SkipsProcessedSubRanges(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	eng, _ := newTestEngine(t, client, nil)
	target := model.TargetRange{Street: "Rua Susano", CityID: 5270, Start: 1, End: 30}

	_, err := eng.ScrapeTarget(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 3, client.searchCalls)

	_, err = eng.ScrapeTarget(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 3, client.searchCalls, "already-attempted sub-ranges are skipped")
}

func TestRun_DeduplicatesAcrossResidents(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		searchFn: func(street string, initial, final, cityID int) ([]broker.Resident, error) {
			if initial == 1 {
				return []broker.Resident{
					{"number": "3", "document": "a"},
					{"number": "3", "document": "a"},
				}, nil
			}
			return nil, nil
		},
		contactFn: func(model.ContactRequest) (*broker.ContactInfoResponse, error) {
			return &broker.ContactInfoResponse{Data: "opaque", ID: 1}, nil
		},
		readFn: func(string, int) (*broker.DecryptedPayload, error) {
			return mobilePayload("11122233344", "MARIA", "(11) 98765-4321"), nil
		},
	}
	eng, _ := newTestEngine(t, client, nil)

	result, err := eng.Run(context.Background(), []model.TargetRange{
		{Street: "Rua Susano", CityID: 5270, Start: 1, End: 10},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Raw)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Distinct)
}

func TestRun_InterruptKeepsFlushedRows(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{
		searchFn: func(street string, initial, final, cityID int) ([]broker.Resident, error) {
			return []broker.Resident{{"number": "3", "document": "a"}}, nil
		},
		contactFn: func(model.ContactRequest) (*broker.ContactInfoResponse, error) {
			return &broker.ContactInfoResponse{Data: "opaque", ID: 1}, nil
		},
		readFn: func(string, int) (*broker.DecryptedPayload, error) {
			// Stop the run once the first record is through.
			cancel()
			return mobilePayload("11122233344", "MARIA", "(11) 98765-4321"), nil
		},
	}
	eng, _ := newTestEngine(t, client, nil)

	result, err := eng.Run(ctx, []model.TargetRange{
		{Street: "Rua Susano", CityID: 5270, Start: 1, End: 100},
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, "interrupted", result.Error)

	rows := readCSV(t, result.OutputFile)
	require.Len(t, rows, 2)
}

func TestRun_RecordsRunInStore(t *testing.T) {
	t.Parallel()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))

	client := &fakeClient{}
	snk := sink.New(t.TempDir())
	eng := NewEngine(client, snk, st, NewDelayPolicy(config.DelaysConfig{}), config.ScrapeConfig{})

	targets := []model.TargetRange{{Street: "Rua Susano", CityID: 5270, Start: 1, End: 10}}
	_, err = eng.Run(context.Background(), targets)
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	require.NotNil(t, runs[0].Result)
	assert.Zero(t, runs[0].Result.Accepted)
	require.Len(t, runs[0].Targets, 1)
	assert.Equal(t, "Rua Susano", runs[0].Targets[0].Street)
}
