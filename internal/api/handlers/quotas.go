package handlers

import (
	"net/http"
	"time"

	"github.com/pysugar/chat-relay/internal/api/middleware"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
)

// LimitedThreshold is the daily usage ratio from which a provider reports
// as limited.
const LimitedThreshold = 0.9

// Provider quota states, ordered by severity.
const (
	QuotaAvailable = "available"
	QuotaLimited   = "limited"
	QuotaExceeded  = "quota_exceeded"
)

var severity = map[string]int{QuotaAvailable: 0, QuotaLimited: 1, QuotaExceeded: 2}

type Window struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// ProviderQuota aggregates every account of one provider.
type ProviderQuota struct {
	Daily          Window    `json:"daily"`
	Monthly        *Window   `json:"monthly"`
	ResetDailyAt   time.Time `json:"reset_daily_at"`
	ResetMonthlyAt time.Time `json:"reset_monthly_at"`
	Status         string    `json:"status"`
}

type QuotasResponse struct {
	Providers       map[string]*ProviderQuota `json:"providers"`
	TotalAccounts   int64                     `json:"total_accounts"`
	ActiveAccounts  int64                     `json:"active_accounts"`
	ExpiredSessions int64                     `json:"expired_sessions"`
}

// QuotasHandler handles GET /api/v1/quotas.
func QuotasHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())

		quotas, err := db.QuotasForUser(r.Context(), database, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load quotas")
			return
		}
		counts, err := db.AccountStatusCounts(r.Context(), database, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to count accounts")
			return
		}

		resp := QuotasResponse{
			Providers:       summarize(quotas),
			ActiveAccounts:  counts[models.AccountActive],
			ExpiredSessions: counts[models.AccountExpired],
		}
		for _, n := range counts {
			resp.TotalAccounts += n
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func summarize(quotas []models.Quota) map[string]*ProviderQuota {
	out := make(map[string]*ProviderQuota)
	for _, q := range quotas {
		p, ok := out[q.Provider]
		if !ok {
			p = &ProviderQuota{
				ResetDailyAt:   q.ResetDailyAt,
				ResetMonthlyAt: q.ResetMonthlyAt,
				Status:         QuotaAvailable,
			}
			out[q.Provider] = p
		}
		p.Daily.Used += q.DailyUsed
		p.Daily.Limit += q.DailyLimit
		p.Daily.Remaining += q.DailyRemaining()
		if q.MonthlyLimit > 0 {
			if p.Monthly == nil {
				p.Monthly = &Window{}
			}
			p.Monthly.Used += q.MonthlyUsed
			p.Monthly.Limit += q.MonthlyLimit
			p.Monthly.Remaining += max(0, q.MonthlyLimit-q.MonthlyUsed)
		}
		if s := quotaStatus(q); severity[s] > severity[p.Status] {
			p.Status = s
		}
	}
	return out
}

func quotaStatus(q models.Quota) string {
	switch {
	case q.DailyRatio() >= 1 || q.MonthlyRatio() >= 1:
		return QuotaExceeded
	case q.DailyRatio() >= LimitedThreshold:
		return QuotaLimited
	}
	return QuotaAvailable
}
