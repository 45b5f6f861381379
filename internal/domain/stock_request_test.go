package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockRequest_CloneIsDeep(t *testing.T) {
	qty := 5
	at := testTime
	r := &StockRequest{
		ID:         "r-1",
		Status:     StatusApproved,
		ApprovedAt: &at,
		Items: []StockRequestItem{
			{ProductID: "P1", RequestedQuantity: 5, ApprovedQuantity: &qty},
			{ProductID: "P2", RequestedQuantity: 3},
		},
	}

	c := r.Clone()
	*c.Items[0].ApprovedQuantity = 99
	c.Items[1].ProductName = "changed"
	*c.ApprovedAt = at.Add(1)

	assert.Equal(t, 5, *r.Items[0].ApprovedQuantity)
	assert.Empty(t, r.Items[1].ProductName)
	assert.Equal(t, testTime, *r.ApprovedAt)
	assert.Nil(t, c.Items[1].ApprovedQuantity)
}

func TestStockRequest_Item(t *testing.T) {
	r := &StockRequest{Items: []StockRequestItem{{ProductID: "P1", RequestedQuantity: 2}, {ProductID: "P2", RequestedQuantity: 4}}}

	require.NotNil(t, r.Item("P2"))
	assert.Equal(t, 4, r.Item("P2").RequestedQuantity)
	assert.Nil(t, r.Item("P3"))
	assert.Equal(t, 6, r.TotalRequested())
}

func TestRequestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusApproved.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.True(t, StatusReceived.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestParseRequestPriority(t *testing.T) {
	p, err := ParseRequestPriority("")
	require.NoError(t, err)
	assert.Equal(t, RequestPriorityNormal, p)

	p, err = ParseRequestPriority("urgent")
	require.NoError(t, err)
	assert.Equal(t, RequestPriorityUrgent, p)

	_, err = ParseRequestPriority("asap")
	assert.ErrorIs(t, err, ErrUnknownPriority)
}

func TestDeliveryReport_Merge(t *testing.T) {
	r := DeliveryReport{Delivered: 1}
	r.Merge(DeliveryReport{Delivered: 2, Failed: []ConnectionRef{{UserID: "u1", ConnectionID: "c1"}}, Relayed: 1})

	assert.Equal(t, 3, r.Delivered)
	assert.Len(t, r.Failed, 1)
	assert.Equal(t, int64(1), r.Relayed)
}
