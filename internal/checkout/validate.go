package checkout

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var phonePattern = regexp.MustCompile(`^01[3-9]\d{8}$`)

// Form is the customer's delivery details as typed.
type Form struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Zone    string `json:"zone"`
}

// ValidationError lists invalid form fields with a message for each.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return fmt.Sprintf("invalid checkout form: %s", strings.Join(names, ", "))
}

// NormalizePhone strips spaces and dashes and a leading +88 country code.
func NormalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	return strings.TrimPrefix(p, "+88")
}

// Validate checks the form and returns the wire address and the delivery
// zone.
func (f Form) Validate() (models.Address, shipping.Zone, error) {
	fields := make(map[string]string)

	name := strings.TrimSpace(f.Name)
	if name == "" {
		fields["name"] = "Name is required"
	}

	phone := NormalizePhone(f.Phone)
	switch {
	case phone == "":
		fields["phone"] = "Phone number is required"
	case !phonePattern.MatchString(phone):
		fields["phone"] = "Enter a valid 11 digit mobile number"
	}

	address := strings.TrimSpace(f.Address)
	if address == "" {
		fields["address"] = "Address is required"
	}

	zone, err := shipping.ParseZone(f.Zone)
	if err != nil {
		fields["zone"] = "Select a delivery area"
	}

	if len(fields) > 0 {
		return models.Address{}, "", &ValidationError{Fields: fields}
	}
	return models.Address{Name: name, Phone: phone, Address: address}, zone, nil
}
