package validator

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
var triggerRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

func ValidateRegister(email, username, displayName, password, role string) ValidationErrors {
	errs := make(ValidationErrors)

	// Email
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	// Username
	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) < 3 {
		errs.Add("username", "Username must be at least 3 characters")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _ and -")
	}

	// Display name
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		errs.Add("display_name", "Display name is required")
	} else if len(displayName) < 2 {
		errs.Add("display_name", "Display name must be at least 2 characters")
	} else if len(displayName) > 100 {
		errs.Add("display_name", "Display name is too long")
	}

	// Password
	validatePassword(password, errs)

	ValidateRole(role, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

func ValidateRole(role string, errs ValidationErrors) {
	switch role {
	case "", "buyer", "seller":
	default:
		errs.Add("role", "Role must be buyer or seller")
	}
}

func ValidateTemplate(triggerKey, body string, delaySeconds int) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(triggerKey) == "" {
		errs.Add("trigger_key", "Trigger key is required")
	} else if !triggerRegex.MatchString(triggerKey) {
		errs.Add("trigger_key", "Trigger key can only contain lowercase letters, numbers and _")
	}

	validateTemplateBody(body, errs)

	if delaySeconds < 0 || delaySeconds > 300 {
		errs.Add("delay_seconds", "Delay must be between 0 and 300 seconds")
	}

	return errs
}

func ValidateTemplateUpdate(triggerKey, body *string, delaySeconds *int) ValidationErrors {
	errs := make(ValidationErrors)

	if triggerKey != nil && !triggerRegex.MatchString(*triggerKey) {
		errs.Add("trigger_key", "Trigger key can only contain lowercase letters, numbers and _")
	}
	if body != nil {
		validateTemplateBody(*body, errs)
	}
	if delaySeconds != nil && (*delaySeconds < 0 || *delaySeconds > 300) {
		errs.Add("delay_seconds", "Delay must be between 0 and 300 seconds")
	}

	return errs
}

func validateTemplateBody(body string, errs ValidationErrors) {
	body = strings.TrimSpace(body)
	if body == "" {
		errs.Add("body", "Template body is required")
	} else if len(body) > 2000 {
		errs.Add("body", "Template body is too long")
	}
}

func ValidateFlagReason(reason string) ValidationErrors {
	errs := make(ValidationErrors)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		errs.Add("reason", "Reason is required")
	} else if len(reason) > 500 {
		errs.Add("reason", "Reason is too long")
	}
	return errs
}

func validatePassword(password string, errs ValidationErrors) {
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	missing := []string{}
	if !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "one number")
	}

	if len(missing) > 0 {
		errs.Add("password", fmt.Sprintf("Password must contain at least %s", strings.Join(missing, ", ")))
	}
}
