// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"code.hybscloud.com/kont"
)

// FromEff converts a Cont-world computation to Expr-world so a fiber can
// run it. Fiber primitives performed through [ToEff] survive the round trip.
func FromEff[A any](m kont.Eff[A]) kont.Expr[A] {
	return kont.Reify(m)
}

// ToEff converts a fiber computation to Cont-world, for composing it with
// kont.Bind and kont.Then before running it with [FromEff].
func ToEff[A any](m kont.Expr[A]) kont.Eff[A] {
	return kont.Reflect(m)
}
