package orders

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxClientOrderIDLength is the maximum length allowed by Binance
	MaxClientOrderIDLength = 36

	// ChainPrefix marks orders placed by this bot
	ChainPrefix = "SB"
)

// OrderRole is the order's purpose within one trade chain
type OrderRole string

const (
	RoleEntry      OrderRole = "E"
	RoleStopLoss   OrderRole = "SL"
	RoleTakeProfit OrderRole = "TP"
)

var (
	ErrClientOrderIDTooLong = errors.New("client order ID exceeds maximum length of 36 characters")
	ErrInvalidClientOrderID = errors.New("invalid client order ID format")
)

// Format: SB-DDMMM-XXXXXXXXXX-ROLE (e.g. "SB-19OCT-3F9A0C1B2D-SL")
var clientOrderIDRegex = regexp.MustCompile(`^SB-(\d{2}[A-Z]{3})-([0-9A-F]{10})-(E|SL|TP)$`)

// NewChainID returns a fresh chain identifier. It doubles as the idempotency key of
// one trade attempt; every order of the attempt derives its client order ID from it.
func NewChainID(now time.Time) string {
	unique := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("%s-%s-%s", ChainPrefix, strings.ToUpper(now.Format("02Jan")), unique)
}

// ClientOrderID derives the ID of one order in the chain
func ClientOrderID(chainID string, role OrderRole) (string, error) {
	if chainID == "" {
		return "", fmt.Errorf("%w: empty chain ID", ErrInvalidClientOrderID)
	}
	id := chainID + "-" + string(role)
	if len(id) > MaxClientOrderIDLength {
		return "", fmt.Errorf("%w: '%s' is %d characters", ErrClientOrderIDTooLong, id, len(id))
	}
	return id, nil
}

// ParsedOrderID contains the components of a client order ID placed by this bot
type ParsedOrderID struct {
	ChainID string
	DateStr string
	Role    OrderRole
	Raw     string
}

// ParseClientOrderID parses a client order ID. It returns false for IDs not placed by
// this bot, such as orders entered by hand.
func ParseClientOrderID(id string) (*ParsedOrderID, bool) {
	m := clientOrderIDRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(id)))
	if m == nil {
		return nil, false
	}
	return &ParsedOrderID{
		ChainID: fmt.Sprintf("%s-%s-%s", ChainPrefix, m[1], m[2]),
		DateStr: m[1],
		Role:    OrderRole(m[3]),
		Raw:     id,
	}, true
}
