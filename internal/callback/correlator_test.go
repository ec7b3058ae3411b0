package callback

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/adapter/memrepo"
	"server/internal/domain"
)

func newTestCorrelator() *Correlator {
	return NewCorrelator(memrepo.NewCallbackStore(0), zerolog.Nop())
}

func TestParseFieldVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
		status  string
		result  string
		errMsg  string
	}{
		{
			name:    "canonical fields",
			payload: `{"correlation_id":"pred-1","status":"succeeded","result":"https://cdn.test/out.png"}`,
			wantID:  "pred-1",
			status:  "succeeded",
			result:  "https://cdn.test/out.png",
		},
		{
			name:    "replicate style",
			payload: `{"id":"pred-2","status":"completed","output":"https://cdn.test/out.mp4"}`,
			wantID:  "pred-2",
			status:  "succeeded",
			result:  "https://cdn.test/out.mp4",
		},
		{
			name:    "task id with state",
			payload: `{"task_id":"pred-3","state":"FAILED","error":"nsfw content"}`,
			wantID:  "pred-3",
			status:  "failed",
			errMsg:  "nsfw content",
		},
		{
			name:    "camel case",
			payload: `{"correlationId":"pred-4","status":"done","result_url":"https://cdn.test/x.png"}`,
			wantID:  "pred-4",
			status:  "succeeded",
			result:  "https://cdn.test/x.png",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Parse([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, rec.CorrelationID)
			assert.Equal(t, tc.status, rec.Status)
			assert.Equal(t, tc.result, rec.ResultURL)
			assert.Equal(t, tc.errMsg, rec.Error)
		})
	}
}

func TestParseMissingCorrelationID(t *testing.T) {
	_, err := Parse([]byte(`{"status":"succeeded"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json at all`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestRecordAndLookup(t *testing.T) {
	c := newTestCorrelator()
	ctx := context.Background()

	rec, err := c.Record(ctx, []byte(`{"correlation_id":"pred-1","status":"succeeded","result":"https://cdn.test/out.png"}`))
	require.NoError(t, err)
	assert.False(t, rec.ReceivedAt.IsZero())

	got, err := c.Lookup(ctx, "pred-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
	assert.Equal(t, "https://cdn.test/out.png", got.ResultURL)
}

func TestRecordDuplicateLastWriteWins(t *testing.T) {
	c := newTestCorrelator()
	ctx := context.Background()

	_, err := c.Record(ctx, []byte(`{"correlation_id":"pred-1","status":"processing"}`))
	require.NoError(t, err)
	_, err = c.Record(ctx, []byte(`{"correlation_id":"pred-1","status":"succeeded","result":"https://cdn.test/final.png"}`))
	require.NoError(t, err)

	got, err := c.Lookup(ctx, "pred-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
	assert.Equal(t, "https://cdn.test/final.png", got.ResultURL)
}

func TestRecordOrphanIsStored(t *testing.T) {
	// Callbacks for unknown correlation ids are stored; whether a request
	// claims them later is not the correlator's concern.
	c := newTestCorrelator()
	ctx := context.Background()

	_, err := c.Record(ctx, []byte(`{"correlation_id":"never-dispatched","status":"succeeded"}`))
	require.NoError(t, err)

	got, err := c.Lookup(ctx, "never-dispatched")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
}

func TestLookupMissing(t *testing.T) {
	c := newTestCorrelator()
	_, err := c.Lookup(context.Background(), "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCallbackRecordFailed(t *testing.T) {
	assert.True(t, (&domain.CallbackRecord{Status: "failed"}).Failed())
	assert.True(t, (&domain.CallbackRecord{Status: "canceled"}).Failed())
	assert.False(t, (&domain.CallbackRecord{Status: "succeeded"}).Failed())
	assert.False(t, (&domain.CallbackRecord{Status: ""}).Failed())
}
