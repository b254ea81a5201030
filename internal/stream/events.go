package stream

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Domains with a stream processor. The buffer accepts only these.
const (
	DomainChat        = "chat"
	DomainFinance     = "finance"
	DomainFitness     = "fitness"
	DomainMarketplace = "marketplace"
)

// ErrUnknownDomain is returned when an event is ingested for a domain without
// a processor.
var ErrUnknownDomain = errors.New("unknown event domain")

// TransactionEvent is a finance domain event.
type TransactionEvent struct {
	Amount   float64 `mapstructure:"amount"`
	Category string  `mapstructure:"category"`
	Merchant string  `mapstructure:"merchant"`
}

func (e TransactionEvent) Validate() error {
	if e.Amount <= 0 {
		return errors.New("transaction amount must be positive")
	}
	if e.Category == "" {
		return errors.New("transaction category is required")
	}
	return nil
}

// WorkoutEvent is a fitness domain event.
type WorkoutEvent struct {
	Activity    string  `mapstructure:"activity"`
	DurationMin float64 `mapstructure:"duration_min"`
	Calories    float64 `mapstructure:"calories"`
}

func (e WorkoutEvent) Validate() error {
	if e.Activity == "" {
		return errors.New("workout activity is required")
	}
	if e.DurationMin <= 0 {
		return errors.New("workout duration must be positive")
	}
	return nil
}

// ProductViewEvent is a marketplace domain event.
type ProductViewEvent struct {
	ProductID string  `mapstructure:"product_id"`
	Category  string  `mapstructure:"category"`
	Price     float64 `mapstructure:"price"`
}

func (e ProductViewEvent) Validate() error {
	if e.ProductID == "" {
		return errors.New("product id is required")
	}
	return nil
}

// ChatEvent is a chat domain event.
type ChatEvent struct {
	Room string `mapstructure:"room"`
	From string `mapstructure:"from"`
	Text string `mapstructure:"text"`
}

func (e ChatEvent) Validate() error {
	if e.Room == "" {
		return errors.New("chat room is required")
	}
	if e.Text == "" {
		return errors.New("chat text is required")
	}
	return nil
}

// decodePayload converts a raw payload map into the domain's typed event,
// validating it at the ingestion boundary.
func decodePayload(domain string, payload map[string]interface{}) (interface{}, error) {
	var (
		event interface {
			Validate() error
		}
	)
	switch domain {
	case DomainFinance:
		var e TransactionEvent
		if err := mapstructure.WeakDecode(payload, &e); err != nil {
			return nil, fmt.Errorf("decode finance event: %w", err)
		}
		event = e
	case DomainFitness:
		var e WorkoutEvent
		if err := mapstructure.WeakDecode(payload, &e); err != nil {
			return nil, fmt.Errorf("decode fitness event: %w", err)
		}
		event = e
	case DomainMarketplace:
		var e ProductViewEvent
		if err := mapstructure.WeakDecode(payload, &e); err != nil {
			return nil, fmt.Errorf("decode marketplace event: %w", err)
		}
		event = e
	case DomainChat:
		var e ChatEvent
		if err := mapstructure.WeakDecode(payload, &e); err != nil {
			return nil, fmt.Errorf("decode chat event: %w", err)
		}
		event = e
	default:
		return nil, ErrUnknownDomain
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}
