// Package config loads client and server settings from a YAML file, a .env
// file and UDPBENCH_* environment variables, in that order.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks settings that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// EnvFile is the dotenv file read after the YAML file. A missing file is not
// an error.
var EnvFile = ".env"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UDPBENCH_"

func readYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

func loadEnvFile() error {
	err := godotenv.Load(EnvFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "load %s", EnvFile)
	}
	return nil
}

// override applies one environment variable to a setting.
type override struct {
	key string
	set func(v string) error
}

func applyEnv(overrides []override) error {
	for _, o := range overrides {
		v, ok := os.LookupEnv(EnvPrefix + o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.set(v); err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, o.key)
		}
	}
	return nil
}

func str(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func integer(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func integer64(p *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func boolean(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func seconds(p *Seconds) func(string) error {
	return func(v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		*p = Seconds(d)
		return nil
	}
}

func list(p *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p = out
		return nil
	}
}

func intList(p *[]int) func(string) error {
	return func(v string) error {
		var names []string
		if err := list(&names)(v); err != nil {
			return err
		}
		out := make([]int, 0, len(names))
		for _, s := range names {
			n, err := strconv.Atoi(s)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		*p = out
		return nil
	}
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

func positive(d Seconds) bool { return time.Duration(d) > 0 }
