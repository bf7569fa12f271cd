// Package oracle — клиент внешнего верификатора баланса ALTYN-кошельков.
//
// Леджер не ходит во внешнюю сеть сам: баланс кошелька сообщает оракул.
// Если оракул не ответил за отведённое время и число попыток, клиент
// возвращает common.ErrExternalVerificationTimeout (fail closed).
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

const (
	defaultBaseDelay = 200 * time.Millisecond
	maxDelay         = 5 * time.Second
)

// balanceResponse — ответ GET {base}/balance?address=0x...
type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

// Client опрашивает верификатор по HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	baseDelay  time.Duration
}

// New создаёт клиент. timeout ограничивает одну попытку, retries —
// число повторов после первой неудачной.
func New(baseURL string, timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries:   retries,
		baseDelay: defaultBaseDelay,
	}
}

// WithBaseDelay меняет начальную задержку между попытками.
func (c *Client) WithBaseDelay(d time.Duration) *Client {
	c.baseDelay = d
	return c
}

// backoff возвращает baseDelay × 2^attempt, не больше maxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return maxDelay
	}
	d := c.baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// errPermanent — ответ, который не имеет смысла повторять.
var errPermanent = errors.New("permanent")

// Balance возвращает проверенный баланс кошелька.
func (c *Client) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if c.baseURL == "" {
		return decimal.Zero, fmt.Errorf("%w: верификатор не настроен", common.ErrExternalVerificationTimeout)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return decimal.Zero, fmt.Errorf("%w: %v", common.ErrExternalVerificationTimeout, ctx.Err())
			case <-timer.C:
			}
		}

		balance, err := c.fetch(ctx, address)
		if err == nil {
			return balance, nil
		}
		if errors.Is(err, errPermanent) {
			return decimal.Zero, fmt.Errorf("%w: %v", common.ErrInvalidWallet, err)
		}
		lastErr = err
		log.WithFields(log.Fields{
			"attempt": attempt + 1,
			"wallet":  address,
			"error":   err,
		}).Warn("Верификатор кошелька не ответил")
	}
	return decimal.Zero, fmt.Errorf("%w: %v", common.ErrExternalVerificationTimeout, lastErr)
}

func (c *Client) fetch(ctx context.Context, address string) (decimal.Decimal, error) {
	endpoint := c.baseURL + "/balance?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return decimal.Zero, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return decimal.Zero, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return decimal.Zero, fmt.Errorf("%w: HTTP %d: %s", errPermanent, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("некорректный ответ верификатора: %w", err)
	}
	if parsed.Address != "" && !strings.EqualFold(parsed.Address, address) {
		return decimal.Zero, fmt.Errorf("%w: ответ для другого адреса %s", errPermanent, parsed.Address)
	}
	if parsed.Balance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: отрицательный баланс", errPermanent)
	}
	return parsed.Balance, nil
}
