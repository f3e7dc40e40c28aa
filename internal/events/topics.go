package events

// Topic constants for domain events emitted by the purchase engine.
const (
	TopicPurchaseCreated     = "purchase.created"
	TopicPurchaseCompleted   = "purchase.completed"
	TopicBundleOrderCreated  = "bundle_order.created"
	TopicBundleOrderComplete = "bundle_order.completed"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicPurchaseCreated,
		TopicPurchaseCompleted,
		TopicBundleOrderCreated,
		TopicBundleOrderComplete,
	}
}
