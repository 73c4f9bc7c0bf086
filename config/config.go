// Package config loads the configuration of a wiki.
//
// The main file is TOML. Group and dictionary definitions live in separate
// YAML files which are watched and reloaded when they change. Secrets are
// taken from the environment, after loading a .env file if there is one.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// SecretEnv names the environment variable holding the server secret.
const SecretEnv = "WIKI_SECRET"

// Config is the configuration of one wiki.
type Config struct {
	Sitename string `toml:"sitename"`
	BaseURL  string `toml:"base_url"`
	DataDir  string `toml:"data_dir"`
	CacheDir string `toml:"cache_dir"`
	FarmDir  string `toml:"farm_cache_dir"`

	// Index is "ql:<path>", "ql-mem" or "mysql:<dsn>". Empty disables the
	// index.
	Index string `toml:"index"`

	// Backend is the kind of the catch-all mount: memory, fs, bolt or s3.
	Backend     string  `toml:"backend"`
	Bucket      string  `toml:"bucket"`
	Compression string  `toml:"compression"`
	Mounts      []Mount `toml:"mount"`
	UnderlayDir string  `toml:"underlay_dir"`

	ACL ACL `toml:"acl"`

	EditLocking    string `toml:"edit_locking"`
	StripSpaces    bool   `toml:"strip_spaces"`
	TemplateRegex  string `toml:"template_regex"`
	PageGroupRegex string `toml:"page_group_regex"`

	Cache Cache `toml:"cache"`

	GroupsFile      string `toml:"groups_file"`
	DictsFile       string `toml:"dicts_file"`
	SubscribersFile string `toml:"subscribers_file"`

	Mail Mail `toml:"mail"`

	Port        string   `toml:"port"`
	TokensFile  string   `toml:"tokens_file"`
	CORSOrigins []string `toml:"cors_origins"`

	EditLog  string `toml:"edit_log"`
	EventLog string `toml:"event_log"`

	Maintenance Maintenance `toml:"maintenance"`

	// Secret keys derived cache keys. It comes from the environment.
	Secret []byte `toml:"-"`
}

// Mount attaches a backend below a name prefix.
type Mount struct {
	Prefix string `toml:"prefix"`
	Kind   string `toml:"kind"` // memory, fs, bolt or s3
	Path   string `toml:"path"`
	Bucket string `toml:"bucket"`
}

// ACL holds the configured access control lists.
type ACL struct {
	Before         string   `toml:"before"`
	Default        string   `toml:"default"`
	After          string   `toml:"after"`
	Hierarchic     bool     `toml:"hierarchic"`
	ValidRights    []string `toml:"valid_rights"`
	TrustedMethods []string `toml:"trusted_auth_methods"`
}

// Cache holds the lock timing of the cache store.
type Cache struct {
	LockTimeout     Duration `toml:"lock_timeout"`
	ReadLockTimeout Duration `toml:"read_lock_timeout"`
}

// Mail configures change notifications. An empty SMTP address disables
// mail and an empty JabberURL disables instant messages.
type Mail struct {
	SMTP      string `toml:"smtp"`
	From      string `toml:"from"`
	JabberURL string `toml:"jabber_url"`
}

// Maintenance holds the cron schedules of the cleanup jobs. An empty
// schedule disables a job.
type Maintenance struct {
	EditLocks   string   `toml:"edit_locks"`
	Drafts      string   `toml:"drafts"`
	DraftMaxAge Duration `toml:"draft_max_age"`
	CacheSweep  string   `toml:"cache_sweep"`
	CacheMaxAge Duration `toml:"cache_max_age"`
	IndexCheck  string   `toml:"index_check"`
}

// Duration is a time.Duration written as a string like "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used for settings a file leaves out.
func Default() *Config {
	return &Config{
		Sitename:       "Wiki",
		BaseURL:        "http://localhost:14000",
		DataDir:        "data",
		CacheDir:       "data/cache",
		FarmDir:        "data/farmcache",
		Index:          "ql:data/index.db",
		Backend:        "fs",
		Compression:    "gzip",
		EditLocking:    "warn 10",
		TemplateRegex:  `\S+(Template|Form)$`,
		PageGroupRegex: `\S+Group$`,
		ACL: ACL{
			Default: "Trusted:read,write,create,destroy Known:read,write,create All:read",
		},
		Cache: Cache{
			LockTimeout:     Duration{10 * time.Second},
			ReadLockTimeout: Duration{60 * time.Second},
		},
		Mail: Mail{
			From: "wiki@localhost",
		},
		Port:     "14000",
		EditLog:  "data/edit-log",
		EventLog: "data/event-log",
		Maintenance: Maintenance{
			EditLocks:   "@every 1h",
			Drafts:      "@daily",
			DraftMaxAge: Duration{30 * 24 * time.Hour},
			CacheSweep:  "@daily",
			CacheMaxAge: Duration{7 * 24 * time.Hour},
			IndexCheck:  "@weekly",
		},
	}
}

// Load reads the TOML file at path over the defaults and takes the secret
// from the environment. An empty path gives the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, errors.Wrapf(err, "config %s", path)
		}
	}
	if err := LoadEnv(); err != nil {
		return nil, err
	}
	c.Secret = []byte(os.Getenv(SecretEnv))
	return c, c.Validate()
}

// LoadEnv reads a .env file in the current directory into the environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnv() error {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrap(err, ".env")
	}
	return nil
}

var kinds = map[string]bool{"memory": true, "fs": true, "bolt": true, "s3": true}

// Validate checks the settings that can be checked without opening
// anything.
func (c *Config) Validate() error {
	if !kinds[c.Backend] {
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	seen := make(map[string]bool)
	for _, m := range c.Mounts {
		if !kinds[m.Kind] {
			return errors.Errorf("mount %q: unknown kind %q", m.Prefix, m.Kind)
		}
		if m.Prefix == "" {
			return errors.New(`mounts need a prefix; the "" mount is set by backend`)
		}
		if seen[m.Prefix] {
			return errors.Errorf("mount %q appears twice", m.Prefix)
		}
		seen[m.Prefix] = true
	}
	for _, re := range []string{c.TemplateRegex, c.PageGroupRegex} {
		if _, err := regexp.Compile(re); err != nil {
			return errors.Wrapf(err, "regex %q", re)
		}
	}
	return nil
}
