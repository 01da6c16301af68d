package util

import (
	"golang.org/x/exp/constraints"
)

// GetV key存在就获取key,不存在就使用默认值
func GetV[K constraints.Ordered, V any](data map[K]V, key K, defaultV V) V {
	if _, ok := data[key]; !ok {
		return defaultV
	}
	return data[key]
}

// IsExist 是否存在
func IsExist[K constraints.Ordered, V any](data map[K]V, key ...K) bool {
	for _, item := range key {
		if _, ok := data[item]; !ok {
			return false
		}
	}
	return true
}

// Merge 合并map
func Merge[K constraints.Ordered, V any](m1 map[K]V, m ...map[K]V) map[K]V {
	result := map[K]V{}
	for k, item := range m1 {
		result[k] = item
	}
	for _, item := range m {
		for k, v := range item {
			result[k] = v
		}
	}
	return result
}
