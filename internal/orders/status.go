package orders

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {StatusRefunded: true},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition covers the lifecycle edges; the repo enforces it under
// the row lock on every status update.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CanCancel rejects cancelling orders that already left the warehouse or
// are terminal.
func CanCancel(s Status) bool {
	switch s {
	case StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return false
	}
	return true
}

func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:           {PaymentPaid: true, PaymentFailed: true},
	PaymentPaid:              {PaymentRefunded: true, PaymentPartiallyRefunded: true},
	PaymentFailed:            {},
	PaymentRefunded:          {},
	PaymentPartiallyRefunded: {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

func ValidPaymentStatus(s PaymentStatus) bool {
	_, ok := validPaymentNext[s]
	return ok
}
