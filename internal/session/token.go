package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TokenStrategy extracts a credential from the transport's current document.
// An empty token with a nil error means "not found by this strategy".
type TokenStrategy interface {
	Name() string
	Extract(ctx context.Context, page Page) (string, error)
}

// StructuredLookup reads an attribute of an element, e.g. the content of
// meta[name='_csrf']. It waits for the element to be attached.
type StructuredLookup struct {
	Selector  string
	Attribute string
}

func (s StructuredLookup) Name() string {
	return fmt.Sprintf("structured(%s@%s)", s.Selector, s.Attribute)
}

func (s StructuredLookup) Extract(ctx context.Context, page Page) (string, error) {
	value, err := page.Attribute(ctx, s.Selector, s.Attribute)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// PatternMatch searches the raw serialized document, the first capture group
// of Pattern is the token.
type PatternMatch struct {
	Pattern *regexp.Regexp
}

// NewPatternMatch compiles `pattern`, it must contain a capture group.
func NewPatternMatch(pattern string) (PatternMatch, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return PatternMatch{}, err
	}
	if compiled.NumSubexp() < 1 {
		return PatternMatch{}, fmt.Errorf("token pattern %q has no capture group", pattern)
	}
	return PatternMatch{Pattern: compiled}, nil
}

func (p PatternMatch) Name() string {
	return fmt.Sprintf("pattern(%s)", p.Pattern.String())
}

func (p PatternMatch) Extract(ctx context.Context, page Page) (string, error) {
	content, err := page.Content(ctx)
	if err != nil {
		return "", err
	}
	groups := p.Pattern.FindStringSubmatch(content)
	if len(groups) < 2 {
		return "", nil
	}
	return strings.TrimSpace(groups[1]), nil
}

// CsrfStrategies is the usual pair for spring-style csrf tokens: the meta
// tag first, then a raw scan of the html for the same tag.
func CsrfStrategies(metaName string) []TokenStrategy {
	return []TokenStrategy{
		StructuredLookup{
			Selector:  fmt.Sprintf("meta[name='%s']", metaName),
			Attribute: "content",
		},
		PatternMatch{Pattern: regexp.MustCompile(
			fmt.Sprintf(`name="%s"\s+content="([^"]+)"`, regexp.QuoteMeta(metaName)),
		)},
	}
}

// extractToken runs the strategies in order within `timeout`. Every strategy
// but the last gets an even share of the remaining time, the last one gets
// whatever is left.
func extractToken(ctx context.Context, page Page, strategies []TokenStrategy, timeout time.Duration) (token string, strategy string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for i, s := range strategies {
		stepCtx := ctx
		var stepCancel context.CancelFunc = func() {}
		if i < len(strategies)-1 {
			stepCtx, stepCancel = context.WithTimeout(ctx, stepBudget(ctx, len(strategies)-i))
		}
		token, err := s.Extract(stepCtx, page)
		stepCancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if token != "" {
			return token, s.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: empty", s.Name()))
	}

	return "", "", fmt.Errorf("%w: %w", ErrTokenNotFound, errors.Join(errs...))
}

// stepBudget splits the remaining time of ctx evenly across the strategies
// that are still to run.
func stepBudget(ctx context.Context, remaining int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 0 {
		return DefaultTokenTimeout
	}
	return time.Until(deadline) / time.Duration(remaining)
}
