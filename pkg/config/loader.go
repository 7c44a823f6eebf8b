package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	baseFile    = "base.yaml"
	secretsFile = "secrets.env"
)

// placeholder 匹配 ${NAME} 和 ${NAME:-default}
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadConfig reads <dir>/base.yaml, overlays <dir>/<env>.yaml when present and
// expands ${NAME} placeholders. Process environment wins over secrets.env;
// an unresolved placeholder takes its :- default or becomes empty.
func LoadConfig(env string, configDir string) (map[string]interface{}, error) {
	if configDir == "" {
		configDir = "config"
	}

	merged, err := loadYAMLFile(filepath.Join(configDir, baseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", baseFile, err)
	}

	if env != "" && env != "base" {
		overlay, err := loadYAMLFile(filepath.Join(configDir, env+".yaml"))
		switch {
		case err == nil:
			merged = mergeMaps(merged, overlay)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		}
	}

	secrets, err := loadEnvFile(filepath.Join(configDir, secretsFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", secretsFile, err)
	}

	lookup := func(name string) (string, bool) {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
		v, ok := secrets[name]
		return v, ok
	}
	return expandMap(merged, lookup), nil
}

func loadYAMLFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// loadEnvFile 解析 KEY=VALUE 行，支持 # 注释、export 前缀和成对引号
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", filepath.Base(path), n)
		}
		env[key] = unquote(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return env, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// mergeMaps returns a new map with src laid over dst; nested maps merge key by
// key, every other value is replaced.
func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := out[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			out[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

func expandMap(m map[string]interface{}, lookup func(string) (string, bool)) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = expandValue(v, lookup)
	}
	return out
}

func expandValue(v interface{}, lookup func(string) (string, bool)) interface{} {
	switch val := v.(type) {
	case string:
		return placeholder.ReplaceAllStringFunc(val, func(match string) string {
			groups := placeholder.FindStringSubmatch(match)
			if got, ok := lookup(groups[1]); ok {
				return got
			}
			return groups[2]
		})
	case map[string]interface{}:
		return expandMap(val, lookup)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = expandValue(item, lookup)
		}
		return out
	default:
		return v
	}
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
