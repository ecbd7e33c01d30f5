package cache

import (
	"os"
	"testing"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal string
		envValue   string
		want       string
	}{
		{
			name:       "set variable wins",
			key:        "CACHE_TEST_SET",
			defaultVal: "default",
			envValue:   "from_env",
			want:       "from_env",
		},
		{
			name:       "unset variable falls back",
			key:        "CACHE_TEST_UNSET",
			defaultVal: "fallback",
			envValue:   "",
			want:       "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			if got := getEnv(tt.key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal int
		envValue   string
		want       int
	}{
		{
			name:       "valid integer",
			key:        "CACHE_TEST_INT",
			defaultVal: 0,
			envValue:   "42",
			want:       42,
		},
		{
			name:       "garbage falls back",
			key:        "CACHE_TEST_INT_BAD",
			defaultVal: 10,
			envValue:   "not_a_number",
			want:       10,
		},
		{
			name:       "unset falls back",
			key:        "CACHE_TEST_INT_UNSET",
			defaultVal: 5,
			envValue:   "",
			want:       5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			if got := getEnvAsInt(tt.key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
}
