package stream

// FinanceSummary is the aggregate published on the finance topic.
type FinanceSummary struct {
	Count             int                `json:"count"`
	Total             float64            `json:"total"`
	ByCategory        map[string]float64 `json:"by_category"`
	LargeTransactions []TransactionEvent `json:"large_transactions,omitempty"`
	Insight           string             `json:"insight,omitempty"`
}

// largeTransactionFloor marks a single transaction as an outlier worth
// surfacing on its own.
const largeTransactionFloor = 1000.0

func aggregateFinance(events []DomainEvent) FinanceSummary {
	summary := FinanceSummary{ByCategory: make(map[string]float64)}
	for _, de := range events {
		txn, ok := de.Payload.(TransactionEvent)
		if !ok {
			continue
		}
		summary.Count++
		summary.Total += txn.Amount
		summary.ByCategory[txn.Category] += txn.Amount
		if txn.Amount >= largeTransactionFloor {
			summary.LargeTransactions = append(summary.LargeTransactions, txn)
		}
	}
	return summary
}

// FitnessSummary is the aggregate published on the fitness topic.
type FitnessSummary struct {
	Workouts         int     `json:"workouts"`
	TotalDurationMin float64 `json:"total_duration_min"`
	TotalCalories    float64 `json:"total_calories"`
	TopActivity      string  `json:"top_activity,omitempty"`
	Insight          string  `json:"insight,omitempty"`
}

func aggregateFitness(events []DomainEvent) FitnessSummary {
	var summary FitnessSummary
	byActivity := make(map[string]float64)
	for _, de := range events {
		workout, ok := de.Payload.(WorkoutEvent)
		if !ok {
			continue
		}
		summary.Workouts++
		summary.TotalDurationMin += workout.DurationMin
		summary.TotalCalories += workout.Calories
		byActivity[workout.Activity] += workout.DurationMin
	}
	var best float64
	for activity, minutes := range byActivity {
		if minutes > best {
			best = minutes
			summary.TopActivity = activity
		}
	}
	return summary
}

// MarketplaceSummary is the aggregate published on the marketplace topic.
type MarketplaceSummary struct {
	Views            int            `json:"views"`
	ByCategory       map[string]int `json:"by_category"`
	TrendingCategory string         `json:"trending_category,omitempty"`
	AveragePrice     float64        `json:"average_price"`
	Insight          string         `json:"insight,omitempty"`
}

func aggregateMarketplace(events []DomainEvent) MarketplaceSummary {
	summary := MarketplaceSummary{ByCategory: make(map[string]int)}
	var priceTotal float64
	for _, de := range events {
		view, ok := de.Payload.(ProductViewEvent)
		if !ok {
			continue
		}
		summary.Views++
		summary.ByCategory[view.Category]++
		priceTotal += view.Price
	}
	if summary.Views > 0 {
		summary.AveragePrice = priceTotal / float64(summary.Views)
	}
	var best int
	for category, views := range summary.ByCategory {
		if views > best {
			best = views
			summary.TrendingCategory = category
		}
	}
	return summary
}

// ChatSummary is the aggregate published on the chat topic.
type ChatSummary struct {
	Messages    int            `json:"messages"`
	ByRoom      map[string]int `json:"by_room"`
	ActiveRooms int            `json:"active_rooms"`
}

func aggregateChat(events []DomainEvent) ChatSummary {
	summary := ChatSummary{ByRoom: make(map[string]int)}
	for _, de := range events {
		msg, ok := de.Payload.(ChatEvent)
		if !ok {
			continue
		}
		summary.Messages++
		summary.ByRoom[msg.Room]++
	}
	summary.ActiveRooms = len(summary.ByRoom)
	return summary
}
