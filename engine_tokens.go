package authcore

import (
	"context"
)

// CreateToken issues a single-use token and returns its opaque value. A
// zero TTL issues a token that is already expired.
func (e *Engine) CreateToken(ctx context.Context, req TokenRequest) (string, error) {
	value, err := e.tokens.Issue(ctx, req)
	e.emitAudit(ctx, AuditTokenIssued, auditRecord{userID: req.UserID}, err, func() map[string]string {
		return map[string]string{"type": req.Type}
	})
	if err != nil {
		return "", err
	}
	e.metricInc(MetricTokenIssued)
	return value, nil
}

// ValidateToken reports whether a token exists and is unexpired. It never
// changes state.
func (e *Engine) ValidateToken(ctx context.Context, value, userID, tokenType string) (TokenResult, error) {
	return e.tokens.Validate(ctx, value, userID, tokenType)
}

// ConsumeToken deletes the token and reports the status it had when it was
// deleted. Of concurrent consumers exactly one sees a status other than
// TokenNotFound.
func (e *Engine) ConsumeToken(ctx context.Context, value, userID, tokenType string) (TokenResult, error) {
	res, err := e.tokens.Consume(ctx, value, userID, tokenType)
	if err != nil {
		return res, err
	}
	e.recordConsume(res)
	if res.Status != TokenNotFound {
		e.emitAudit(ctx, AuditTokenConsumed, auditRecord{userID: userID}, nil, func() map[string]string {
			return map[string]string{"type": tokenType, "status": res.Status.String()}
		})
	}
	return res, nil
}

func (e *Engine) recordConsume(res TokenResult) {
	switch res.Status {
	case TokenValid:
		e.metricInc(MetricTokenConsumed)
	case TokenExpired:
		e.metricInc(MetricTokenExpired)
	default:
		e.metricInc(MetricTokenMiss)
	}
}

// DeleteExpiredTokens removes every expired token.
func (e *Engine) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	n, err := e.tokens.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	e.metricAdd(MetricTokensPurged, n)
	return n, nil
}

// GetAllTokens lists tokens matching filter, expired ones included.
func (e *Engine) GetAllTokens(ctx context.Context, filter TokenFilter) ([]*Token, error) {
	return e.tokens.List(ctx, filter)
}
