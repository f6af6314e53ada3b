// AngelaMos | 2026
// dto.go

package ledger

type AmountRequest struct {
	Amount         int64  `json:"amount"          validate:"gt=0"`
	Description    string `json:"description"     validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type RecordUsageRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

type DailyUsageRequest struct {
	DaysBack int `json:"days_back" validate:"omitempty,min=1,max=90"`
}

type DailyUsageResponse struct {
	DaysBack int   `json:"days_back"`
	Usage    int64 `json:"usage"`
}

type DaysRemainingResponse struct {
	Days int64 `json:"days"`
}

type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func normalizePage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
