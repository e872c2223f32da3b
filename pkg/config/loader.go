package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader fills a config struct from, in increasing precedence, `default`
// struct tags, a YAML file, an env file and the process environment.
type Loader struct {
	// ConfigFile is an optional YAML file. A missing file is not an error.
	ConfigFile string
	// EnvFile is an optional KEY=VALUE file. Keys already set in the
	// environment win.
	EnvFile string
	// Prefix is prepended to every generated environment variable name.
	Prefix string
}

// Load applies every source to target, which must be a pointer to a struct.
func (l Loader) Load(target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config target must be a pointer to a struct, got %T", target)
	}

	if err := walkFields(v.Elem(), "", applyDefault); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}
	if l.ConfigFile != "" {
		if err := loadYAML(target, l.ConfigFile); err != nil {
			return err
		}
	}
	if l.EnvFile != "" {
		if err := loadEnvFile(l.EnvFile); err != nil {
			return err
		}
	}
	if err := walkFields(v.Elem(), l.Prefix, applyEnv); err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}
	return nil
}

type fieldFunc func(field reflect.Value, sf reflect.StructField, envName string) error

// walkFields calls fn for every settable leaf field. envName is the
// upper-cased path of the field, joined with underscores.
func walkFields(v reflect.Value, prefix string, fn fieldFunc) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field, sf := v.Field(i), t.Field(i)
		if !field.CanSet() {
			continue
		}
		name := envKey(prefix, sf)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := walkFields(field, name, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(field, sf, name); err != nil {
			return err
		}
	}
	return nil
}

func envKey(prefix string, sf reflect.StructField) string {
	key := strings.ToUpper(sf.Name)
	if tag, _, _ := strings.Cut(sf.Tag.Get("yaml"), ","); tag != "" && tag != "-" {
		key = strings.ToUpper(tag)
	}
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

func applyDefault(field reflect.Value, sf reflect.StructField, _ string) error {
	def, ok := sf.Tag.Lookup("default")
	if !ok {
		return nil
	}
	if err := setField(field, def); err != nil {
		return fmt.Errorf("field %s: %w", sf.Name, err)
	}
	return nil
}

func applyEnv(field reflect.Value, sf reflect.StructField, envName string) error {
	value, ok := os.LookupEnv(envName)
	if !ok {
		return nil
	}
	if err := setField(field, value); err != nil {
		return fmt.Errorf("field %s from %s: %w", sf.Name, envName, err)
	}
	return nil
}

func loadYAML(target any, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnvFile exports KEY=VALUE lines that are not already set.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read environment file %s: %w", path, err)
	}

	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid line %d in environment file %s: %q", n+1, path, line)
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = unquote(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

var durationType = reflect.TypeOf(time.Duration(0))

// setField parses value into field. Slices take a comma separated list.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			field.SetBool(true)
		case "false", "0", "no", "off":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean value: %q", value)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %q", value)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 0, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value: %q", value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 0, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %q", value)
		}
		field.SetUint(n)
	case reflect.Slice:
		parts := strings.Split(value, ",")
		if strings.TrimSpace(value) == "" {
			parts = nil
		}
		s := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setField(s.Index(i), strings.TrimSpace(p)); err != nil {
				return err
			}
		}
		field.Set(s)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// FindConfigFile returns the first existing <name>.yaml in the working
// directory, ./config or /etc/<name>, or "" if there is none.
func FindConfigFile(name string) string {
	file := name + ".yaml"
	return firstExisting(
		file,
		filepath.Join("config", file),
		filepath.Join("/etc", name, file),
	)
}

// FindEnvFile returns the first existing .env or <name>.env, or "".
func FindEnvFile(name string) string {
	return firstExisting(".env", name+".env", filepath.Join("config", name+".env"))
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
