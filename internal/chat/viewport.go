package chat

// Viewport models the scroll state of the transcript view. The engine
// keeps it consistent across prepends so loading older history never
// yanks the message the user was reading off screen.
type Viewport struct {
	ScrollTop     int
	ContentHeight int
	ClientHeight  int
	AtBottom      bool
}

// Observe folds a scroll measurement reported by the view.
func (v *Viewport) Observe(scrollTop, contentHeight, clientHeight int) {
	v.ScrollTop = scrollTop
	v.ContentHeight = contentHeight
	v.ClientHeight = clientHeight
	v.AtBottom = contentHeight-scrollTop <= clientHeight+1
}

// AtTop reports whether the view is scrolled to the very top, the trigger
// for loading the next history page.
func (v *Viewport) AtTop() bool {
	return v.ScrollTop == 0
}

// CompensatePrepend shifts the scroll offset by the height a history
// prepend added, keeping the previously-topmost message stationary.
func (v *Viewport) CompensatePrepend(heightBefore, heightAfter int) {
	v.ScrollTop += heightAfter - heightBefore
	v.ContentHeight = heightAfter
}
