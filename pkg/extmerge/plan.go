/*
Copyright 2026 The Poskeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package extmerge

// Pass is one round of a multi-pass merge: temp files are read from
// ReadDir and written to WriteDir. The first pass reads the original
// inputs in place, so its ReadDir is empty.
type Pass struct {
	ReadDir  string
	WriteDir string
}

// Plan is the pass sequence for a merge. Passes beyond the plan (when
// inputs arrive late) keep alternating the two directories.
type Plan struct {
	Passes []Pass
}

// NumPasses returns the number of passes needed to merge n inputs at
// the given fan-in, including the final streaming pass.
func NumPasses(n, fanIn int) int {
	if n == 0 {
		return 0
	}
	if fanIn < 2 {
		fanIn = 2
	}
	passes := 1
	for n > fanIn {
		n = (n + fanIn - 1) / fanIn
		passes++
	}
	return passes
}

// MakePlan lays out the passes for n inputs, alternating temp output
// between dirA and dirB.
func MakePlan(n, fanIn int, dirA, dirB string) Plan {
	passes := NumPasses(n, fanIn)
	p := Plan{Passes: make([]Pass, 0, passes)}
	for i := 0; i < passes; i++ {
		pass := Pass{}
		if i%2 == 0 {
			pass.WriteDir = dirA
		} else {
			pass.WriteDir = dirB
		}
		if i > 0 {
			pass.ReadDir = p.Passes[i-1].WriteDir
		}
		p.Passes = append(p.Passes, pass)
	}
	return p
}

// AssessWork estimates the total bytes a merge of the given input
// sizes will process across every pass, for progress reporting.
func AssessWork(sizes []int64, fanIn int) int64 {
	var sum int64
	for _, s := range sizes {
		sum += s
	}
	return sum * int64(NumPasses(len(sizes), fanIn))
}
