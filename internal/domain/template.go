package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TemplateStatus mirrors the provider's approval decision.
type TemplateStatus string

const (
	TemplateStatusApproved TemplateStatus = "approved"
	TemplateStatusPending  TemplateStatus = "pending"
	TemplateStatusRejected TemplateStatus = "rejected"
)

func (s TemplateStatus) String() string { return string(s) }

func (s TemplateStatus) IsValid() bool {
	switch s {
	case TemplateStatusApproved, TemplateStatusPending, TemplateStatusRejected:
		return true
	}
	return false
}

func ParseTemplateStatusFromString(s string) (TemplateStatus, error) {
	st := TemplateStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid template status %q", ErrValidation, s)
	}
	return st, nil
}

const MaxTemplateBody = 1024

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// Template is a provider-approved message skeleton with ordered {{n}} slots.
// Variables[i] names the value that fills {{i+1}}.
type Template struct {
	ID        string
	TenantID  string
	Name      string
	Language  string
	Category  string
	Body      string
	Variables []string
	Status    TemplateStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(t.Language) == "" {
		return fmt.Errorf("%w: template language is required", ErrValidation)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	if n := len([]rune(t.Body)); n > MaxTemplateBody {
		return fmt.Errorf("%w: template body exceeds %d characters (got %d)", ErrValidation, MaxTemplateBody, n)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid template status %q", ErrValidation, t.Status)
	}

	seen := make(map[int]bool)
	for _, match := range placeholderPattern.FindAllStringSubmatch(t.Body, -1) {
		idx, err := strconv.Atoi(match[1])
		if err != nil || idx < 1 || idx > len(t.Variables) {
			return fmt.Errorf("%w: placeholder %s has no declared variable", ErrValidation, match[0])
		}
		seen[idx] = true
	}
	for i := 1; i <= len(t.Variables); i++ {
		if !seen[i] {
			return fmt.Errorf("%w: variable %q ({{%d}}) is not used in the body", ErrValidation, t.Variables[i-1], i)
		}
		if strings.TrimSpace(t.Variables[i-1]) == "" {
			return fmt.Errorf("%w: variable {{%d}} has an empty name", ErrValidation, i)
		}
	}

	return nil
}

// ResolveValues returns the ordered parameter list for this template, taking
// each variable from the first source that has it. A missing value is a
// template mismatch and is reported before any provider call.
func (t *Template) ResolveValues(sources ...map[string]string) ([]string, error) {
	values := make([]string, len(t.Variables))
	for i, key := range t.Variables {
		normalized := strings.ToLower(strings.TrimSpace(key))
		found := false
		for _, src := range sources {
			if v, ok := src[normalized]; ok && strings.TrimSpace(v) != "" {
				values[i] = strings.TrimSpace(v)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: missing value for template variable %q", ErrValidation, key)
		}
	}
	return values, nil
}

// Render substitutes {{i}} with values[i-1].
func (t *Template) Render(values []string) (string, error) {
	if len(values) != len(t.Variables) {
		return "", fmt.Errorf("%w: template %q expects %d values, got %d", ErrValidation, t.Name, len(t.Variables), len(values))
	}

	var renderErr error
	rendered := placeholderPattern.ReplaceAllStringFunc(t.Body, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 1 || idx > len(values) {
			renderErr = fmt.Errorf("%w: placeholder %s out of range", ErrValidation, m)
			return m
		}
		return values[idx-1]
	})
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}
