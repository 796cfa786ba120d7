// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import (
	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/platform"
)

func toArmPerm(p platform.MPUAccessPerm) arm.AccessPerm {
	switch p {
	case platform.MPUPrivRW:
		return arm.AccessPrivRW
	case platform.MPUPrivRWUnprivRO:
		return arm.AccessPrivRWUnprivRO
	case platform.MPUFullRW:
		return arm.AccessFullRW
	case platform.MPUPrivRO:
		return arm.AccessPrivRO
	case platform.MPUFullRO:
		return arm.AccessFullRO
	default:
		return arm.AccessNoAccess
	}
}

func (d *Driver) MPURegionConfig(cfg platform.MPURegionConfig) error {
	return arm.ConfigureRegion(arm.RegionConfig{
		Number: cfg.Number,
		Base:   cfg.Base,
		Size:   cfg.Size,
		Perm:   toArmPerm(cfg.Perm),
		XN:     cfg.XN,
		B:      cfg.B,
		S:      cfg.S,
		SRD:    cfg.SRD,
	})
}

func (d *Driver) MPURegionDisable(region int) error {
	return arm.DisableRegion(region)
}

func (d *Driver) MPUEnable(on bool) {
	arm.Enable(on)
}
