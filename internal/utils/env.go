package utils

import "os"

// GetEnvWithDefault returns the value of the environment variable key or the defaultValue if key is not set
func GetEnvWithDefault(key string, defaultValue string) string {
	envValue, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}

	return envValue
}
