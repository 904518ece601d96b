package config

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"social-inbox/models"
)

// Seed lists the agents and page credentials the relay starts with. Both are
// maintained by external tooling.
type Seed struct {
	Agents []models.Agent `yaml:"agents"`
	Pages  []models.Page  `yaml:"pages"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or "" when unset
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// LoadSeed reads the seed file at path
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading seed file")
	}

	var seed Seed
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &seed); err != nil {
		return nil, errors.Wrap(err, "parsing seed file")
	}

	for i, p := range seed.Pages {
		if p.PageID == "" {
			return nil, errors.Errorf("pages[%d]: page_id is required", i)
		}
		if p.AccessToken == "" {
			return nil, errors.Errorf("pages[%d]: access_token is required", i)
		}
		if p.Platform == "" {
			seed.Pages[i].Platform = models.PlatformFacebook
		}
	}
	return &seed, nil
}
