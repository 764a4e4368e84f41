package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pilltrail/pilltrail/internal/config"
	apperrors "github.com/pilltrail/pilltrail/internal/errors"
)

// LookupClient queries a public drug-classification service. Calls are
// rate-limited and wrapped in a circuit breaker so a flapping upstream
// cannot stall interaction checks.
type LookupClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*ClassResponse]
	logger  *zap.Logger
}

// NewLookupClient creates a classification lookup client.
func NewLookupClient(cfg config.InteractionConfig, logger *zap.Logger) *LookupClient {
	timeout := cfg.LookupTimeout
	if timeout == 0 {
		timeout = 12
	}
	limit := cfg.LookupRateLimit
	if limit <= 0 {
		limit = 5
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 60
	}

	breaker := gobreaker.NewCircuitBreaker[*ClassResponse](gobreaker.Settings{
		Name:    "drug-classification",
		Timeout: time.Duration(cooldown) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classification breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &LookupClient{
		baseURL: cfg.LookupBaseURL,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		breaker: breaker,
		logger:  logger,
	}
}

// classListResponse mirrors the service's byDrugName payload.
type classListResponse struct {
	RxclassDrugInfoList struct {
		RxclassDrugInfo []struct {
			RxclassMinConceptItem struct {
				ClassID   string `json:"classId"`
				ClassName string `json:"className"`
				ClassType string `json:"classType"`
			} `json:"rxclassMinConceptItem"`
			Rela string `json:"rela"`
		} `json:"rxclassDrugInfo"`
	} `json:"rxclassDrugInfoList"`
}

// LookupClasses fetches the drug's classification relations.
func (c *LookupClient) LookupClasses(ctx context.Context, drugName string) (*ClassResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(err, "INTERACT_001", "drug classification lookup unavailable")
	}

	resp, err := c.breaker.Execute(func() (*ClassResponse, error) {
		return c.fetch(ctx, drugName)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.Wrap(err, "INTERACT_001", "drug classification lookup unavailable")
		}
		return nil, err
	}
	return resp, nil
}

func (c *LookupClient) fetch(ctx context.Context, drugName string) (*ClassResponse, error) {
	endpoint := fmt.Sprintf("%s/rxclass/class/byDrugName.json?drugName=%s&relaSource=MEDRT",
		c.baseURL, url.QueryEscape(drugName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(err, "INTERACT_002", "drug classification lookup timed out")
		}
		return nil, apperrors.Wrap(err, "INTERACT_001", "drug classification lookup unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.New("INTERACT_001",
			fmt.Sprintf("classification service returned %d: %s", resp.StatusCode, string(body)))
	}

	var payload classListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(err, "INTERACT_001", "failed to decode classification response")
	}

	out := &ClassResponse{DrugName: drugName}
	for _, info := range payload.RxclassDrugInfoList.RxclassDrugInfo {
		name := info.RxclassMinConceptItem.ClassName
		if name == "" {
			continue
		}
		switch info.Rela {
		case RelationMayTreat, RelationSideEffect, RelationContraindicate:
			out.Relations = append(out.Relations, ClassRelation{
				RelatedConceptName: name,
				RelationType:       info.Rela,
			})
		}
	}
	return out, nil
}
