package whatsapp

import (
	"errors"
	"fmt"
	"strings"

	waprovider "github.com/example/whatsapp-channel-adapter/internal/providers/whatsapp"
	"github.com/example/whatsapp-channel-adapter/internal/util"
)

// Settings are the Twilio credentials and addressing the adapter needs.
// Values are immutable once returned by NewSettings.
type Settings struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	EndpointURL string
}

// NewSettings validates and normalizes the four values. PhoneNumber gains the
// whatsapp: scheme when it is missing.
func NewSettings(accountSID, authToken, phoneNumber, endpointURL string) (Settings, error) {
	return Settings{
		AccountSID:  accountSID,
		AuthToken:   authToken,
		PhoneNumber: phoneNumber,
		EndpointURL: endpointURL,
	}.Normalize()
}

// Normalize returns a validated copy of s.
func (s Settings) Normalize() (Settings, error) {
	out := Settings{
		AccountSID:  strings.TrimSpace(s.AccountSID),
		AuthToken:   strings.TrimSpace(s.AuthToken),
		PhoneNumber: strings.TrimSpace(s.PhoneNumber),
	}

	var errs []error
	if out.AccountSID == "" {
		errs = append(errs, errors.New("account sid is required"))
	}
	if out.AuthToken == "" {
		errs = append(errs, errors.New("auth token is required"))
	}
	if out.PhoneNumber == "" || waprovider.StripAddress(out.PhoneNumber) == "" {
		errs = append(errs, errors.New("phone number is required"))
	} else {
		out.PhoneNumber = waprovider.FormatAddress(out.PhoneNumber)
	}
	endpoint, err := util.ValidateHTTPURL(s.EndpointURL)
	if err != nil {
		errs = append(errs, fmt.Errorf("endpoint url: %w", err))
	}
	out.EndpointURL = endpoint

	if len(errs) > 0 {
		return Settings{}, fmt.Errorf("whatsapp adapter: invalid settings: %w", errors.Join(errs...))
	}
	return out, nil
}
