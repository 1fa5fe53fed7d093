package polymarket

// wsCodec builds CLOB market-channel subscription payloads. The feed wants
// a different shape for the first subscription of a connection than for
// later additions.
type wsCodec struct{}

type initialSubscription struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

type channelOperation struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

// SubscribeMessage returns the market-channel subscription payload.
func (wsCodec) SubscribeMessage(tokenIDs []string, initial bool) (interface{}, error) {
	if initial {
		return initialSubscription{AssetIDs: tokenIDs, Type: "market"}, nil
	}
	return channelOperation{AssetIDs: tokenIDs, Operation: "subscribe"}, nil
}

// UnsubscribeMessage returns the market-channel unsubscription payload.
func (wsCodec) UnsubscribeMessage(tokenIDs []string) (interface{}, error) {
	return channelOperation{AssetIDs: tokenIDs, Operation: "unsubscribe"}, nil
}
