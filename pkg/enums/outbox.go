package enums

// OutboxEventType labels domain events drained to the billing topic.
type OutboxEventType string

const (
	OutboxEventSubscriptionSynced    OutboxEventType = "billing.subscription.synced"
	OutboxEventSubscriptionEnded     OutboxEventType = "billing.subscription.ended"
	OutboxEventSubscriptionChanged   OutboxEventType = "billing.subscription.changed"
	OutboxEventPaymentRecorded       OutboxEventType = "billing.payment.recorded"
	OutboxEventTrialEndingSoon       OutboxEventType = "billing.subscription.trial_ending"
	OutboxEventCheckoutSessionOpened OutboxEventType = "billing.checkout.opened"
)

// IsValid reports whether the value is a known OutboxEventType.
func (t OutboxEventType) IsValid() bool {
	switch t {
	case OutboxEventSubscriptionSynced,
		OutboxEventSubscriptionEnded,
		OutboxEventSubscriptionChanged,
		OutboxEventPaymentRecorded,
		OutboxEventTrialEndingSoon,
		OutboxEventCheckoutSessionOpened:
		return true
	}
	return false
}

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateSubscription OutboxAggregateType = "subscription"
	OutboxAggregatePayment      OutboxAggregateType = "payment"
	OutboxAggregateUser         OutboxAggregateType = "user"
)

// IsValid reports whether the value is a known OutboxAggregateType.
func (t OutboxAggregateType) IsValid() bool {
	switch t {
	case OutboxAggregateSubscription, OutboxAggregatePayment, OutboxAggregateUser:
		return true
	}
	return false
}
