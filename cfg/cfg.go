package cfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load 读取配置文件到 object，格式由扩展名决定
// 解码后依次设置 def 默认值并按 validate tag 校验
func Load(path string, object any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := Unmarshal(data, strings.TrimPrefix(filepath.Ext(path), "."), object); err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return nil
}

// Unmarshal 解码 yaml/yml/toml/json 数据，字段按 cfg tag 匹配
func Unmarshal(data []byte, format string, object any) error {
	src, err := Decode(data, format)
	if err != nil {
		return err
	}
	if err := Convert(src, object); err != nil {
		return err
	}
	if err := SetDefaults(object); err != nil {
		return err
	}
	if err := validator.New().Struct(object); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Decode 将数据解码为通用的 map/slice/标量结构
func Decode(data []byte, format string) (any, error) {
	var result any
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode YAML: %w", err)
		}
	case "toml":
		var parsed map[string]any
		if err := toml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode TOML: %w", err)
		}
		result = parsed
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return result, nil
}
