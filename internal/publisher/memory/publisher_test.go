package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

func TestPublisherRecordsPerTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "records", crawler.ProductRecord{Name: "Milk", Fingerprint: "name:1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(context.Background(), "audit", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	records := pub.Messages("records")
	require.Len(t, records, 1)
	require.JSONEq(t, `{"k":"v"}`, string(pub.Messages("audit")[0].Data))
	require.Contains(t, string(records[0].Data), `"Milk"`)
	require.Len(t, pub.Messages(""), 2)

	records[0].Topic = "modified"
	require.Equal(t, "records", pub.Messages("records")[0].Topic)
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "records", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages(""))
}
