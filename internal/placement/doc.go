// Package placement 维护广告投放账本，并提供基于随机采样的空位搜索。
package placement
