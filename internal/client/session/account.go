package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

var form = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Signup registers a citizen account. It does not sign in; the caller logs in
// with the new credentials afterwards.
func (s *Store) Signup(ctx context.Context, req models.SignupRequest) (*models.UserInfo, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	if err := checkForm(req); err != nil {
		return nil, err
	}

	res, err := s.client.DoPublic(ctx, http.MethodPost, "/auth/signup", req)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Status == http.StatusConflict {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, http.StatusConflict, fmt.Sprintf("an account for %s already exists", req.Email))
		}
		return nil, err
	}
	var created profile
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &created); err != nil {
			return nil, appErrors.Fetch(res.Status, "unexpected signup response", err)
		}
	}
	if created.Email == "" {
		created.Email = req.Email
	}
	if created.FirstName == "" && created.LastName == "" {
		created.FirstName, created.LastName = req.FirstName, req.LastName
	}
	s.logger.Info("account created", zap.String("user_id", string(created.ID)))
	return &models.UserInfo{
		ID:        string(created.ID),
		Email:     created.Email,
		FirstName: created.FirstName,
		LastName:  created.LastName,
		Role:      created.role(""),
	}, nil
}

// ChangePassword replaces the signed-in user's password. The session stays
// valid.
func (s *Store) ChangePassword(ctx context.Context, req models.ChangePasswordRequest) error {
	if err := checkForm(req); err != nil {
		return err
	}
	if _, err := s.Token(); err != nil {
		return err
	}
	if _, err := s.client.Do(ctx, http.MethodPost, "/auth/change-password", req); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Status == http.StatusForbidden {
			return appErrors.Wrap(err, appErrors.ErrAuth.Code, appErr.Status, "current password is incorrect")
		}
		return asAuthError(err)
	}
	s.logger.Info("password changed")
	return nil
}

// checkForm validates a request locally and folds every problem into one
// ValidationError.
func checkForm(v interface{}) error {
	err := form.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form")
	}
	problems := make([]string, 0, len(fields))
	for _, fe := range fields {
		problems = append(problems, fieldProblem(fe))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, strings.Join(problems, "; "))
}

func fieldProblem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "eqfield":
		return fe.Field() + " does not match the new password"
	default:
		return fe.Field() + " is invalid"
	}
}
