package util

import (
	"golang.org/x/exp/constraints"
)

// InArray 是否在数组中
func InArray[T constraints.Ordered](a T, b []T) bool {
	for _, item := range b {
		if a == item {
			return true
		}
	}
	return false
}

// LastItem 获取数组的最后一个元素
func LastItem[T any](a []T) T {
	return a[len(a)-1]
}
