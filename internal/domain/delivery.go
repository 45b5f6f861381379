package domain

// ConnectionRef names one live connection.
type ConnectionRef struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// DeliveryReport is the outcome of one dispatch or fan-out call. Failed lists
// connections whose write failed and which have been evicted as a result.
type DeliveryReport struct {
	Delivered int             `json:"delivered"`
	Failed    []ConnectionRef `json:"failed,omitempty"`
	// Relayed is the number of instances a relayed notification reached.
	Relayed int64 `json:"relayed,omitempty"`
}

func (r *DeliveryReport) Merge(other DeliveryReport) {
	r.Delivered += other.Delivered
	r.Failed = append(r.Failed, other.Failed...)
	r.Relayed += other.Relayed
}
