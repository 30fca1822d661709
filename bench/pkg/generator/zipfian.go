// Copyright 2018 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

/**
 * Copyright (c) 2010-2016 Yahoo! Inc., 2017 YCSB contributors. All rights reserved.
 * <p>
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License. You
 * may obtain a copy of the License at
 * <p>
 * http://www.apache.org/licenses/LICENSE-2.0
 * <p>
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
 * implied. See the License for the specific language governing
 * permissions and limitations under the License. See accompanying
 * LICENSE file.
 */

package generator

import (
	"math"
	"math/rand"
)

const (
	// ZipfianConstant is the default constant for the zipfian.
	ZipfianConstant = float64(0.99)
)

// Zipfian generates the zipfian distribution: some refs are much more popular
// than others. The popular ones are clustered at the low end of the range,
// min being the most popular.
//
// Building the generator computes zeta over the whole range, which takes a
// while for very large ranges.
//
// The algorithm used here is from "Quickly Generating Billion-Record Synthetic Databases", Jim Gray et al, SIGMOD 1994.
type Zipfian struct {
	Number

	items int64
	base  int64

	alpha      float64
	zetan      float64
	theta      float64
	eta        float64
	zeta2Theta float64
}

// NewZipfianWithItems creates the Zipfian generator over [0, items).
func NewZipfianWithItems(items int64, zipfianConstant float64) *Zipfian {
	return NewZipfianWithRange(0, items-1, zipfianConstant)
}

// NewZipfianWithRange creates the Zipfian generator over [min, max].
func NewZipfianWithRange(min int64, max int64, zipfianConstant float64) *Zipfian {
	items := max - min + 1
	theta := zipfianConstant
	z := &Zipfian{
		items: items,
		base:  min,
		theta: theta,
		alpha: 1.0 / (1.0 - theta),
		zetan: zeta(items, theta),
	}
	z.zeta2Theta = zeta(2, theta)
	z.eta = (1 - math.Pow(2.0/float64(items), 1-theta)) / (1 - z.zeta2Theta/z.zetan)
	return z
}

func zeta(n int64, theta float64) float64 {
	var sum float64
	for i := int64(0); i < n; i++ {
		sum += 1 / math.Pow(float64(i+1), theta)
	}
	return sum
}

// Next implements the Generator Next interface.
func (z *Zipfian) Next(r *rand.Rand) int64 {
	ret := z.next(r)
	z.SetLastValue(ret)
	return ret
}

func (z *Zipfian) next(r *rand.Rand) int64 {
	if z.items <= 1 {
		return z.base
	}

	u := r.Float64()
	uz := u * z.zetan

	if uz < 1.0 {
		return z.base
	}
	if uz < 1.0+math.Pow(0.5, z.theta) {
		return z.base + 1
	}

	ret := z.base + int64(float64(z.items)*math.Pow(z.eta*u-z.eta+1, z.alpha))
	if max := z.base + z.items - 1; ret > max {
		ret = max
	}
	return ret
}
