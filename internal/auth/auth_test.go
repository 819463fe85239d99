package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/syncboard/syncboard/internal/store"
	"github.com/syncboard/syncboard/pkg/models"
)

type fakeUsers struct {
	hash     string
	profile  models.Profile
	created  []models.Profile
	credErr  error
	createFn func(email, hash, fullName string) (models.Profile, error)
}

func (f *fakeUsers) CreateUser(_ context.Context, email, passwordHash, fullName string) (models.Profile, error) {
	if f.createFn != nil {
		return f.createFn(email, passwordHash, fullName)
	}
	p := models.Profile{ID: "u1", Email: email, FullName: fullName}
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakeUsers) Credentials(context.Context, string) (string, models.Profile, error) {
	if f.credErr != nil {
		return "", models.Profile{}, f.credErr
	}
	return f.hash, f.profile, nil
}

func newTestService(t *testing.T, users UserStore) *Service {
	t.Helper()
	return NewService(Config{JWTSecret: "test-secret", TokenExpiry: time.Hour}, users)
}

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	user := models.User{ID: "u1", Email: "a@example.com", Name: "Alice"}

	token, err := svc.Generate(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != user {
		t.Errorf("round trip = %+v, want %+v", got, user)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).Generate(models.User{ID: "u1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewJWTService("secret-b", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	token, err := NewJWTService("secret", -time.Minute).Generate(models.User{ID: "u1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewJWTService("secret", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.Validate(token); err == nil {
			t.Errorf("Validate(%q) succeeded", token)
		}
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Verify("  "); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestSignInSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter22!"), bcrypt.MinCost)
	users := &fakeUsers{
		hash:    string(hash),
		profile: models.Profile{ID: "u1", Email: "a@example.com", FullName: "Alice"},
	}
	svc := newTestService(t, users)

	user, token, err := svc.SignIn(context.Background(), " A@Example.com ", "hunter22!")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if user.ID != "u1" || user.Name != "Alice" {
		t.Errorf("user = %+v", user)
	}
	if got, err := svc.Verify(token); err != nil || got.ID != "u1" {
		t.Errorf("issued token did not verify: %+v, %v", got, err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	svc := newTestService(t, &fakeUsers{hash: string(hash)})

	if _, _, err := svc.SignIn(context.Background(), "a@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignInUnknownAccountIndistinguishable(t *testing.T) {
	svc := newTestService(t, &fakeUsers{credErr: errors.New("no rows")})

	_, _, err := svc.SignIn(context.Background(), "ghost@example.com", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown account error = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignUp(t *testing.T) {
	users := &fakeUsers{}
	svc := newTestService(t, users)

	user, token, err := svc.SignUp(context.Background(), "New@Example.com", "longenough", "Newbie")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if token == "" {
		t.Error("no token issued")
	}
	if len(users.created) != 1 {
		t.Fatalf("created %d users", len(users.created))
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	users := &fakeUsers{createFn: func(string, string, string) (models.Profile, error) {
		return models.Profile{}, store.ErrDuplicateEmail
	}}
	svc := newTestService(t, users)

	if _, _, err := svc.SignUp(context.Background(), "a@example.com", "longenough", "A"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("err = %v, want ErrEmailTaken", err)
	}
}

func TestSignUpShortPassword(t *testing.T) {
	svc := newTestService(t, &fakeUsers{})
	if _, _, err := svc.SignUp(context.Background(), "a@example.com", "short", "A"); err == nil {
		t.Error("short password accepted")
	}
}

func TestSignUpHashesPassword(t *testing.T) {
	var storedHash string
	users := &fakeUsers{createFn: func(email, hash, fullName string) (models.Profile, error) {
		storedHash = hash
		return models.Profile{ID: "u1", Email: email, FullName: fullName}, nil
	}}
	svc := newTestService(t, users)

	if _, _, err := svc.SignUp(context.Background(), "a@example.com", "mypassword", "A"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if storedHash == "mypassword" || storedHash == "" {
		t.Fatal("password stored unhashed")
	}
	if bcrypt.CompareHashAndPassword([]byte(storedHash), []byte("mypassword")) != nil {
		t.Error("stored hash does not match the password")
	}
}
