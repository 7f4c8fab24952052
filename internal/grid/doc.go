// Package grid 保存每个坐标的涂色状态以及售卖计数器。
package grid
