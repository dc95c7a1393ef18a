package process

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// deniedNames are never forwarded from the parent environment.
var deniedNames = map[string]bool{
	"OPENAI_API_KEY":                 true,
	"ANTHROPIC_API_KEY":              true,
	"GEMINI_API_KEY":                 true,
	"GOOGLE_API_KEY":                 true,
	"AZURE_OPENAI_API_KEY":           true,
	"AWS_ACCESS_KEY_ID":              true,
	"AWS_SECRET_ACCESS_KEY":          true,
	"AWS_SESSION_TOKEN":              true,
	"GOOGLE_APPLICATION_CREDENTIALS": true,
	"GITHUB_TOKEN":                   true,
	"GH_TOKEN":                       true,
	"GITLAB_TOKEN":                   true,
	"NPM_TOKEN":                      true,
	"NODE_AUTH_TOKEN":                true,
	"PYPI_TOKEN":                     true,
	"DOCKER_PASSWORD":                true,
	"DATABASE_URL":                   true,
	"SLACK_BOT_TOKEN":                true,
	"STRIPE_SECRET_KEY":              true,
}

// deniedSuffixes match variable names ending in a credential-looking word.
var deniedSuffixes = []string{
	"_API_KEY",
	"_APIKEY",
	"_SECRET",
	"_SECRET_KEY",
	"_SECRET_ACCESS_KEY",
	"_ACCESS_KEY",
	"_PRIVATE_KEY",
	"_TOKEN",
	"_AUTH_TOKEN",
	"_PASSWORD",
	"_PASSWD",
	"_CREDENTIALS",
}

// deniedPrefixes match whole families of sensitive variables.
var deniedPrefixes = []string{
	"SECRET_",
	"AWS_SECRET",
	"AZURE_CLIENT_SECRET",
	"TOKEN_",
	"PASSWORD_",
}

// IsSensitive reports whether an environment variable name looks like it
// carries a credential. Matching is case-insensitive.
func IsSensitive(name string) bool {
	upper := strings.ToUpper(name)
	if deniedNames[upper] {
		return true
	}
	for _, s := range deniedSuffixes {
		if strings.HasSuffix(upper, s) {
			return true
		}
	}
	for _, p := range deniedPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// FilterEnv drops sensitive entries from a KEY=VALUE list.
func FilterEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		if IsSensitive(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// pathDirs are prepended to PATH so tools installed by common package
// managers resolve even when the parent was launched with a minimal PATH.
var pathDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
}

// BuildEnv creates the environment for a subprocess: the parent environment
// with sensitive variables removed and PATH augmented, then customEnv merged
// on top. customEnv always wins, including for names that would be filtered.
func BuildEnv(customEnv map[string]string) []string {
	return buildEnv(os.Environ(), customEnv)
}

func buildEnv(base []string, customEnv map[string]string) []string {
	env := FilterEnv(base)

	if runtime.GOOS != "windows" {
		for i, e := range env {
			if strings.HasPrefix(e, "PATH=") {
				currentPath := strings.TrimPrefix(e, "PATH=")
				env[i] = "PATH=" + strings.Join(pathDirs, ":") + ":" + currentPath
				break
			}
		}
	}

	// Sorted for a deterministic child environment.
	keys := make([]string, 0, len(customEnv))
	for k := range customEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := customEnv[k]
		found := false
		prefix := k + "="
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = prefix + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, prefix+v)
		}
	}

	return env
}
