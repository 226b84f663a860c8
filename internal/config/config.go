package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every `env` tag when reading the environment.
const EnvPrefix = "COMPOSITOR_"

// LoadConfig fills opts, a pointer to a flat options struct, with values from
// the TOML file named by its Config field and from the environment.
// Precedence is CLI flag > environment > file. Fields whose flag was set on
// cmd are left untouched.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: expected pointer to struct, got %T", opts)
	}
	v = v.Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			changed[f.Name] = true
		})
	}

	var file map[string]any
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
		data, err := os.ReadFile(f.String())
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("config: read %s: %w", f.String(), err)
		default:
			if err := toml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("config: parse %s: %w", f.String(), err)
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if !field.CanSet() || changed[flagName(sf.Name)] {
			continue
		}

		if path := sf.Tag.Get("toml"); path != "" && file != nil {
			if raw := lookup(file, path); raw != nil {
				if err := assign(field, raw); err != nil {
					return fmt.Errorf("config: %s: %w", path, err)
				}
			}
		}

		if key := sf.Tag.Get("env"); key != "" {
			if s, ok := os.LookupEnv(EnvPrefix + key); ok && s != "" {
				if err := assignString(field, s); err != nil {
					return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
				}
			}
		}
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// flagName converts a field name to its kebab-case flag, matching humacli:
// "LoggingLevel" -> "logging-level", "VideoFPSNum" -> "video-fps-num".
func flagName(field string) string {
	runes := []rune(field)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookup resolves a dotted path inside decoded TOML tables.
func lookup(data map[string]any, path string) any {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

var durationType = reflect.TypeOf(time.Duration(0))

func assign(field reflect.Value, raw any) error {
	if field.Type() == durationType {
		switch x := raw.(type) {
		case string:
			return assignString(field, x)
		case int64:
			field.SetInt(x * int64(time.Millisecond))
			return nil
		}
		return fmt.Errorf("cannot use %T as duration", raw)
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := raw.(string); ok {
			field.SetString(s)
			return nil
		}
	case reflect.Bool:
		if b, ok := raw.(bool); ok {
			field.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		switch x := raw.(type) {
		case int64:
			field.SetInt(x)
			return nil
		case float64:
			field.SetInt(int64(x))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		switch x := raw.(type) {
		case float64:
			field.SetFloat(x)
			return nil
		case int64:
			field.SetFloat(float64(x))
			return nil
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			break
		}
		arr, ok := raw.([]any)
		if !ok {
			break
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			out = append(out, fmt.Sprint(item))
		}
		field.Set(reflect.ValueOf(out))
		return nil
	}
	return fmt.Errorf("cannot use %T for %s field", raw, field.Kind())
}

func assignString(field reflect.Value, s string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
