package conversation

// Prompts and replies of the booking and listing conversations.
const (
	MsgAskDate        = "Which date would you like to book? Put in format DDMMYY. Eg: 311225"
	MsgAskListingDate = "Which date would you like to view? Put in format DDMMYY. Eg: 311225"
	MsgDateValid      = "Date is valid. Please select the start time for the booking."
	MsgSelectTimeSlot = "Please select a time slot:"
	MsgStartChosen    = "Starting period is Period %d. Please select the ending period for the booking."
	MsgEndChosen      = "Ending period is Period %d. Please select the location for the booking."
	MsgSelectLocation = "Please select a location:"
	MsgLocationChosen = "Location is %s"
	MsgAskName        = "Enter your rank and name. Eg: 3SG Ethan Cole"
	MsgAskCourse      = "Enter your course/reason for booking. Eg: BSC, ISC, Works"
	MsgConfirm        = "Confirm booking?"
	MsgTerminated     = "Booking terminated."
	MsgCancelled      = "Process cancelled."
	MsgTimedOut       = "Session timed out. Send /bookslot or /bookings to start again."
	MsgGenericFailure = "Something went wrong. Please try again later."
)
