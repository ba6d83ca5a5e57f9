package plugins

import (
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"blp-router/internal/config"
	"blp-router/internal/plugin"
	"blp-router/internal/plugins/txwatch"
)

// Build 按配置类型创建插件实例。
func Build(cfg config.PluginConfig, logger *zap.Logger) (plugin.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := strings.TrimSpace(cfg.ID)

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case txwatch.Kind:
		var settings txwatch.Settings
		if err := decodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("plugins: 解析插件 %q 配置失败: %w", id, err)
		}
		return txwatch.New(id, settings, logger), nil
	default:
		return nil, fmt.Errorf("plugins: 插件 %q 的类型 %q 不受支持", id, cfg.Kind)
	}
}

// RegisterAll 按配置顺序创建并注册全部插件，顺序决定事件路由的决胜顺序。
// 插件与注册表使用同一个去除首尾空白后的标识。
func RegisterAll(registry *plugin.Registry, cfgs []config.PluginConfig, logger *zap.Logger) error {
	for _, cfg := range cfgs {
		handler, err := Build(cfg, logger)
		if err != nil {
			return err
		}
		if err := registry.Register(strings.TrimSpace(cfg.ID), handler); err != nil {
			return err
		}
	}
	return nil
}

func decodeSettings(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "mapstructure",
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
