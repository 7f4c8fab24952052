// Package config 加载 PixelBoard 服务端与智能体共用的 JSON 配置，
// 填充默认值并从配置中声明的环境变量读取密钥。
package config
