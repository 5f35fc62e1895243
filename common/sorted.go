// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "sort"

// IsSortedAndUnique reports whether the given list is strictly ordered
// according to the given less function.
func IsSortedAndUnique[T any](list []T, less func(a, b *T) bool) bool {
	for i := 0; i < len(list)-1; i++ {
		if !less(&list[i], &list[i+1]) {
			return false
		}
	}
	return true
}

// SortUnique sorts the given list in place and removes entries equal to
// their predecessor. The sort uses less, the duplicate removal uses equal,
// so entries with the same sort key but different payloads are retained and
// can be detected by a subsequent IsSortedAndUnique check.
func SortUnique[T any](list []T, less func(a, b *T) bool, equal func(a, b *T) bool) []T {
	if len(list) <= 1 {
		return list
	}
	sort.SliceStable(list, func(i, j int) bool { return less(&list[i], &list[j]) })
	j := 0
	for i := 1; i < len(list); i++ {
		if !equal(&list[j], &list[i]) {
			j++
			list[j] = list[i]
		}
	}
	return list[:j+1]
}
