package invoice

import (
	"fmt"
	"os"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Profile holds the village details printed on every invoice
type Profile struct {
	Title       string `yaml:"title"`
	VillageName string `yaml:"village_name"`
	Phone       string `yaml:"phone"`
	DueDay      int    `yaml:"due_day"`
	Currency    string `yaml:"currency"`
	Locale      string `yaml:"locale"`
}

// DefaultProfile returns the built-in village profile
func DefaultProfile() Profile {
	return Profile{
		Title:       "ใบแจ้งค่าน้ำประปา",
		VillageName: "หมู่บ้านสุขใจวิลเลจ",
		Phone:       "02-123-4567",
		DueDay:      15,
		Currency:    "บาท",
		Locale:      "en-US",
	}
}

// LoadProfile reads a YAML profile. Fields missing from the file keep their
// defaults; an empty path returns the default profile.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read invoice profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("failed to parse invoice profile %s: %w", path, err)
	}
	if err := profile.validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid invoice profile %s: %w", path, err)
	}
	return profile, nil
}

func (p Profile) validate() error {
	if p.DueDay < 1 || p.DueDay > 28 {
		return fmt.Errorf("due_day must be between 1 and 28, got %d", p.DueDay)
	}
	if _, err := language.Parse(p.Locale); err != nil {
		return fmt.Errorf("locale %q: %w", p.Locale, err)
	}
	return nil
}
