// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

// notifyAll delivers the terminal result to each subscriber in registration
// order.  A failure delivering to one subscriber is logged and does not
// block or abort delivery to the rest.
func notifyAll(subscribers []Subscriber, result bool) {
	for _, target := range subscribers {
		if err := target.Notify(result); err != nil {
			log.Warnf("Unable to deliver completion notification: "+
				"%v", err)
		}
	}
}
