package model

// Content 一道题目的运行规格，来自配置 content.catalog
type Content struct {
	Ref   string            `json:"ref" mapstructure:"ref"`
	Name  string            `json:"name" mapstructure:"name"`
	Image string            `json:"image" mapstructure:"image"`
	Port  int               `json:"port" mapstructure:"port"`
	Env   map[string]string `json:"env" mapstructure:"env"`
	// Apps 伴随容器，例如题目依赖的数据库
	Apps []ContentApp `json:"apps" mapstructure:"apps"`
}

type ContentApp struct {
	Name  string            `json:"name" mapstructure:"name"`
	Image string            `json:"image" mapstructure:"image"`
	Env   map[string]string `json:"env" mapstructure:"env"`
}
