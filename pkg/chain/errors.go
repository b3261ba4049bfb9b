/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import "errors"

// ErrStoreUnavailable indicates the content store did not accept the block
// bytes within its configured timeout. The confirmed height is not advanced
// and the triggering event is not marked resolved.
var ErrStoreUnavailable = errors.New("chain: content store unavailable")
