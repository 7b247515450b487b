package errors

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Classify maps a raw failure from a profile fetch attempt into a Kind.
// Total function: never panics, every input maps to a Kind, ambiguity
// defaults to NETWORK.
//
// Rules are evaluated in priority order:
//  1. our own timeout/abort fired           -> BLOCKED
//  2. placeholder credentials               -> ENV_MISSING
//  3. zero-rows / no-rows database result   -> NOT_FOUND
//  4. 401/403 or row-level-security denial  -> ACCESS_DENIED
//  5. request never reached the server      -> BLOCKED
//  6. everything else                       -> NETWORK
func Classify(err error) Kind {
	if err == nil {
		return KindNetwork
	}

	// Rule 1: the attempt's own deadline fired, or the request was aborted.
	// Treated as "something intercepted the request", not a clean network
	// failure: an 8s silent stall is the signature of VPN/extension blocking.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindBlocked
	}

	msg := strings.ToLower(err.Error())

	// Rule 2: the client was never properly configured.
	if errors.Is(err, ErrEnvMissing) || strings.Contains(msg, "placeholder") {
		return KindEnvMissing
	}

	// Rule 3: single-row-expected-but-got-zero. Defensive: the store port
	// reports zero rows as (nil, nil), but a driver-level no-rows error must
	// classify the same way.
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}

	// Rule 4: authorization denial, HTTP or row-level security.
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 401, 403:
			return KindAccessDenied
		case 404:
			return KindNotFound
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.InsufficientPrivilege {
			return KindAccessDenied
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return KindBlocked
		}
		return KindNetwork
	}

	// Rule 5: connectivity failures where the request never left the client
	// or never reached the server.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindBlocked
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindBlocked
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindBlocked
	}
	for _, pattern := range blockedMessagePatterns {
		if strings.Contains(msg, pattern) {
			return KindBlocked
		}
	}

	// Rule 6: default.
	return KindNetwork
}

// blockedMessagePatterns are message fragments typical of a request that was
// intercepted client-side or refused before reaching the server.
var blockedMessagePatterns = []string{
	"blocked",
	"failed to fetch",
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
}
