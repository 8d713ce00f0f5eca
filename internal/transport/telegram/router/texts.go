package router

// Reply keyboard labels.
const (
	BtnNewTask    = "📝 New Task"
	BtnTaskList   = "📋 Task List"
	BtnDeleteTask = "❌ Delete Task"
)

var mainKeyboard = [][]string{
	{BtnNewTask, BtnTaskList},
	{BtnDeleteTask},
}

const (
	textWelcome = "👋 Hello! I'm Mila, your AI agent.\n\n" +
		"Select what you want to do:\n\n" +
		"📝 New task\n" +
		"📋 Task list\n" +
		"❌ Delete task\n\n" +
		"Your task will be properly scheduled and run."

	textNoAccess = "🚫 You don't have access to Mila AI Agent"

	textNewTaskGuide = "Please answer 6 questions about the new task:\n" +
		"1. WHAT?\n" +
		"For example: I want to search for job openings with the title 'AI Tester'.\n" +
		"2. WHERE?\n" +
		"For example: on dice.com.\n" +
		"3. WHEN?\n" +
		"For example: every day at 8:30 am EST.\n" +
		"4. HOW?\n" +
		"For example: format the results as a list of job postings with links and translate the descriptions into Russian.\n" +
		"5. FOR WHICH PERIOD?\n" +
		"For example: for the past week or 24 hours.\n" +
		"6. WHERE TO SEND?\n" +
		"For example: send the job list to this chat."

	textCreating        = "📝 Creating prompt and search query..."
	textTooShort        = "❌ Description is too short. Please clarify the task."
	textRegisterFailed  = "❌ Oh, some error in task registration."
	textInPast          = "❌ The requested time is already in the past. Please describe a future time."
	textBadScheduleFmt  = "❌ This schedule cannot be used: %s. Please clarify when to run the task."
	textNoTasks         = "❌ There are no saved tasks yet."
	textNoTasksToDelete = "❌ There are no task for deletion."
	textTaskListFmt     = "📝 Your Task List:\n\n%s"
	textDeletePromptFmt = "Task List:\n\n%s\n\nType file name for deletion (including `.txt`)."
	textDeletedFmt      = "✅ Task %s deleted."
	textNotFoundFmt     = "❌ Task %s is not found."
	textDeleteFailedFmt = "❌ Task %s could not be deleted. Please try again later."
	textListFailed      = "❌ Could not read your tasks. Please try again later."
	textCancelled       = "👌 Cancelled."
	textBusy            = "⏳ Busy, please try again in a moment."
	textUnknownCommand  = "Unknown command. Use the buttons below or /help."
	textAdminOnly       = "🚫 This command is for admins only."
	textShowUsage       = "Usage: /show <task id>"

	textRegisteredFmt = "✅ Task %s registered.\n\n" +
		"🔎 Search query:\n%s\n\n" +
		"⏰ When to run the task: %s\n" +
		"⏭ Next run: %s\n\n" +
		"📋 Prompt:\n%s"

	textShowFmt = "🗂 Task %s\n\n" +
		"🔎 Search query:\n%s\n\n" +
		"⏰ Schedule: %s\n\n" +
		"📋 Prompt:\n%s"

	noQuery = "none (reminder)"
)
