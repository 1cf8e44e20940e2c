package database

// Collection layout. Shared boards live at the top level; each user keeps a
// profile, notifications, and (for accounts predating shared boards) a
// private board with its own cards.
const (
	BoardsCollection = "boards"
	UsersCollection  = "users"

	legacyBoardID = "main-board"
)

func BoardRef(boardID string) DocumentRef {
	return DocumentRef{Collection: BoardsCollection, ID: boardID}
}

func CardsCollection(boardID string) string {
	return BoardsCollection + "/" + boardID + "/cards"
}

func CardRef(boardID, cardID string) DocumentRef {
	return DocumentRef{Collection: CardsCollection(boardID), ID: cardID}
}

func LabelsCollection(boardID string) string {
	return BoardsCollection + "/" + boardID + "/labels"
}

func LabelRef(boardID, labelID string) DocumentRef {
	return DocumentRef{Collection: LabelsCollection(boardID), ID: labelID}
}

func CommentsCollection(boardID, cardID string) string {
	return CardsCollection(boardID) + "/" + cardID + "/comments"
}

func UserRef(userID string) DocumentRef {
	return DocumentRef{Collection: UsersCollection, ID: userID}
}

func NotificationsCollection(userID string) string {
	return UsersCollection + "/" + userID + "/notifications"
}

func NotificationRef(userID, notificationID string) DocumentRef {
	return DocumentRef{Collection: NotificationsCollection(userID), ID: notificationID}
}

// LegacyBoardRef is the private single-board document of a pre-sharing account
func LegacyBoardRef(userID string) DocumentRef {
	return DocumentRef{Collection: UsersCollection + "/" + userID + "/boards", ID: legacyBoardID}
}

// LegacyCardsCollection holds the cards of a pre-sharing account
func LegacyCardsCollection(userID string) string {
	return UsersCollection + "/" + userID + "/cards"
}
